package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// CheckReport counts the outcome of one CheckAll pass.
type CheckReport struct {
	OK     int `json:"ok"`
	Failed int `json:"failed"`
}

// Checker probes every source URL with a HEAD request and records the status.
type Checker struct {
	db       *DB
	logger   *slog.Logger
	interval time.Duration
	client   *http.Client
}

// NewChecker returns a checker that repeats every interval when started.
func NewChecker(db *DB, logger *slog.Logger, interval time.Duration) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		db:       db,
		logger:   logger,
		interval: interval,
		client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Start checks immediately, then every interval until ctx is done.
func (c *Checker) Start(ctx context.Context) {
	c.CheckAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

// CheckAll probes every source. A redirect counts as reachable.
func (c *Checker) CheckAll(ctx context.Context) CheckReport {
	var rep CheckReport
	srcs, err := c.db.List()
	if err != nil {
		c.logger.Error("source check: cannot list sources", "error", err)
		return rep
	}

	for _, src := range srcs {
		if ctx.Err() != nil {
			return rep
		}
		status, probeErr := c.probe(ctx, src.URL)
		msg := ""
		if probeErr != nil {
			msg = probeErr.Error()
		}
		if err := c.db.UpdateCheck(src.ID, status, msg); err != nil {
			c.logger.Error("source check: cannot record result", "source", src.ID, "error", err)
		}

		if status >= 200 && status < 400 {
			rep.OK++
			continue
		}
		rep.Failed++
		c.logger.Warn("source unreachable",
			"source", src.ID,
			"url", src.URL,
			"status", status,
			"error", msg,
		)
	}
	if len(srcs) > 0 {
		c.logger.Info("source check complete", "total", len(srcs), "ok", rep.OK, "failed", rep.Failed)
	}
	return rep
}

// probe returns the HEAD status of u, or 0 on a transport error.
func (c *Checker) probe(ctx context.Context, u string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HEAD %s: %w", u, err)
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
