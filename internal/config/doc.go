// Package config loads uisync.json, the deployment configuration read by
// the uisync command.
//
// # Configuration File Structure
//
//	{
//	  "port": 8080,
//	  "host": "",
//	  "session": {
//	    "timeout": "30m",
//	    "heartbeatInterval": "5m",
//	    "closeIdleSessions": false,
//	    "maxSessions": 0,
//	    "expiredURL": "/expired.html",
//	    "preserveOnRefresh": true
//	  },
//	  "push": {
//	    "mode": "automatic",
//	    "transport": "websocket",
//	    "fallbackTransport": "long-polling"
//	  },
//	  "upload": {
//	    "storage": "s3",
//	    "bucket": "uploads",
//	    "prefix": "incoming/",
//	    "maxSize": 10485760
//	  },
//	  "metrics": {"enabled": true, "path": "/metrics"},
//	  "tracing": {"enabled": true},
//	  "logLevel": "info"
//	}
//
// The UISYNC_PORT environment variable overrides port.
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sc, err := cfg.ToServerConfig()
package config
