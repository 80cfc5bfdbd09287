/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/shirou/gopsutil/v3/process"
	"gopkg.in/yaml.v3"
)

type Status struct {
	Version    string  `json:"version"`
	Uptime     string  `json:"uptime"`
	Goroutines int     `json:"goroutines"`
	Threads    int32   `json:"threads"`
	CPUPercent float64 `json:"cpu_percent"`
	Memory     string  `json:"memory"`
	Players    int     `json:"players"`
	OpenGames  int     `json:"open_games"`
}

func collectStatus(ctx context.Context, l *Lobby) (Status, error) {
	st := Status{
		Version:    releaseVersion,
		Goroutines: runtime.NumGoroutine(),
		Players:    l.connected(),
	}

	open, err := l.backends.store.ListOpen(ctx)
	if err != nil {
		return st, err
	}
	st.OpenGames = len(open)

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return st, err
	}

	if created, err := proc.CreateTimeWithContext(ctx); err == nil {
		st.Uptime = time.Since(time.UnixMilli(created)).Round(time.Second).String()
	}
	if threads, err := proc.NumThreadsWithContext(ctx); err == nil {
		st.Threads = threads
	}
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		st.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil {
		st.Memory = humanReadableSize(int64(mem.RSS))
	}

	return st, nil
}

func serveStatus(cfg *Config, l *Lobby, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		st, err := collectStatus(r.Context(), l)
		if err != nil {
			errs <- err
		}

		writeJSON(cfg, w, st, errs)

		logf(cfg, "SERVE: Status page to %s in %s",
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// printHistory writes the ledger as YAML.
func printHistory(ctx context.Context, w io.Writer, cfg *Config) error {
	b := &backends{}
	defer b.Close()

	if err := b.openHistory(cfg); err != nil {
		return err
	}

	standings, err := b.history.Standings(ctx, cfg.historyLimit)
	if err != nil {
		return err
	}

	recent, err := b.history.Recent(ctx, cfg.historyLimit)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(historyResponse{
		Standings: standings,
		Recent:    recent,
	}); err != nil {
		return err
	}

	return enc.Close()
}
