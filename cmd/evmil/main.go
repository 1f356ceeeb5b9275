package main

import (
	"log/slog"
	"net/http"
	"os"
	"strings"

	_ "net/http/pprof" // profiling

	"evmil/internal/evmil/cmd"
	"evmil/internal/evmil/log"
)

// profileAddr returns the pprof listen address selected by EVMIL_PROFILE:
// a host:port value is used as is, any other non-empty value means the
// default port.
func profileAddr() string {
	v := os.Getenv("EVMIL_PROFILE")
	switch {
	case v == "":
		return ""
	case strings.Contains(v, ":"):
		return v
	default:
		return "localhost:6060"
	}
}

func main() {
	defer log.RecoverPanic("main", func() {
		slog.Error("evmil terminated due to unhandled panic")
		_ = log.Close()
		os.Exit(2)
	})

	if addr := profileAddr(); addr != "" {
		go func() {
			slog.Info("Serving pprof", "addr", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				slog.Error("pprof listener stopped", "error", err)
			}
		}()
	}

	cmd.Execute()
}
