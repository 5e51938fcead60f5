// Package logger provides adapters for popular logger libraries to work with rowstore's Logger interface.
//
// The adapters allow you to use your existing logger with rowstore without writing boilerplate.
// Note that the standard library's slog.Logger already implements rowstore.Logger directly.
//
// Example with zap:
//
//	import (
//	    "github.com/alexhholmes/rowstore"
//	    "github.com/alexhholmes/rowstore/logger"
//	    "go.uber.org/zap"
//	)
//
//	func main() {
//	    zapLogger, _ := zap.NewProduction()
//
//	    table, err := rowstore.New("events", schema,
//	        rowstore.WithLogger(logger.NewZap(zapLogger)),
//	    )
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer table.Close()
//	}
package logger
