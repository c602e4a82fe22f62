// Package logger provides adapters for popular logger libraries to work with marlindb's Logger interface.
//
// The adapters allow you to use your existing logger with marlindb without writing boilerplate.
// Note that the standard library's slog.Logger already implements marlindb.Logger directly.
//
// Example with zap:
//
//	import (
//	    "marlindb"
//	    "marlindb/logger"
//	    "go.uber.org/zap"
//	)
//
//	func main() {
//	    zapLogger, _ := zap.NewProduction()
//
//	    db, err := marlindb.Open("data", marlindb.WithLogger(logger.NewZap(zapLogger)))
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer db.Close()
//	}
package logger
