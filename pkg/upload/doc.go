// Package upload streams file uploads into stream variables registered on
// connectors.
//
// Uploads are plain HTTP POSTs to
//
//	APP/UPLOAD/<uiId>/<connectorId>/<variableName>/<secKey>
//
// The body is either a multipart form carrying one file, or the raw file
// bytes posted by XHR. Multipart bodies are demultiplexed by
// MultipartReader, which returns end of stream exactly at the closing
// boundary. A request whose secKey does not match the registered variable
// is accepted but not processed.
//
// The session lock is held only around stream variable callbacks. Bytes
// are copied into the variable's output stream without the lock:
//
//	s := &upload.Streamer{Locker: sess, ProgressInterval: 500 * time.Millisecond}
//	res, err := s.Stream(ctx, sv, body, upload.Info{FileName: name})
//
// Two sinks are provided: FileReceiver writes to a temp directory and
// S3Receiver streams to an S3 bucket.
package upload
