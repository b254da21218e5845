package scanner

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hashpath/foreman/pkg/cgminer"
	"github.com/hashpath/foreman/pkg/log"
	"github.com/hashpath/foreman/pkg/types"
)

const (
	// MaxConcurrency caps the probe worker pool
	MaxConcurrency = 50

	// DefaultProbeTimeout is the per-host control port timeout
	DefaultProbeTimeout = 3 * time.Second
)

// webPorts are tried in order for HTTP fingerprinting
var webPorts = []int{80, 443, 8080}

// Config tunes one scan run
type Config struct {
	Concurrency     int           // worker pool size, capped at MaxConcurrency
	ControlPort     int           // default 4028
	ProbeTimeout    time.Duration // default 3s
	HTTPFingerprint bool          // also try the web console ports
}

// Progress is a point-in-time snapshot of a running scan
type Progress struct {
	Total      int `json:"total_ips"`
	Scanned    int `json:"scanned_ips"`
	Discovered int `json:"discovered_miners"`
}

// Scanner probes a set of hosts with a bounded worker pool and reports
// DiscoveredMiner entries through a callback as they are found. Progress
// counters are updated atomically so a poller can read them mid-scan.
type Scanner struct {
	cfg    Config
	logger zerolog.Logger

	total      atomic.Int64
	scanned    atomic.Int64
	discovered atomic.Int64
	cancelled  atomic.Bool

	// probe is swappable in tests
	probe func(ctx context.Context, ip string) *types.DiscoveredMiner
}

// New creates a scanner with defaults filled in
func New(cfg Config) *Scanner {
	if cfg.Concurrency <= 0 || cfg.Concurrency > MaxConcurrency {
		cfg.Concurrency = MaxConcurrency
	}
	if cfg.ControlPort <= 0 {
		cfg.ControlPort = cgminer.DefaultPort
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	s := &Scanner{
		cfg:    cfg,
		logger: log.WithComponent("scanner"),
	}
	s.probe = s.probeHost
	return s
}

// Progress returns the current counters
func (s *Scanner) Progress() Progress {
	return Progress{
		Total:      int(s.total.Load()),
		Scanned:    int(s.scanned.Load()),
		Discovered: int(s.discovered.Load()),
	}
}

// Cancel stops the scan at the next worker boundary. In-flight probes
// finish; queued hosts are skipped.
func (s *Scanner) Cancel() {
	s.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called
func (s *Scanner) Cancelled() bool {
	return s.cancelled.Load()
}

// Run probes every host in ips, invoking onResult for each discovered
// miner. onResult may be called from multiple workers concurrently.
// Run returns after all workers drain, whether by completion, cancel,
// or context expiry.
func (s *Scanner) Run(ctx context.Context, ips []string, onResult func(types.DiscoveredMiner)) error {
	s.total.Store(int64(len(ips)))
	s.scanned.Store(0)
	s.discovered.Store(0)

	s.logger.Info().
		Int("hosts", len(ips)).
		Int("workers", s.cfg.Concurrency).
		Msg("scan started")

	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, ip := range ips {
		if s.cancelled.Load() || ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(ip string) {
			defer wg.Done()
			defer func() { <-sem }()
			if s.cancelled.Load() || ctx.Err() != nil {
				return
			}
			if found := s.probe(ctx, ip); found != nil {
				s.discovered.Add(1)
				if onResult != nil {
					onResult(*found)
				}
			}
			s.scanned.Add(1)
		}(ip)
	}
	wg.Wait()

	s.logger.Info().
		Int64("scanned", s.scanned.Load()).
		Int64("discovered", s.discovered.Load()).
		Bool("cancelled", s.cancelled.Load()).
		Msg("scan finished")

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// probeHost asks the control port for its version. A host that answers
// at all is a discovery, even when the firmware string matches no known
// family.
func (s *Scanner) probeHost(ctx context.Context, ip string) *types.DiscoveredMiner {
	client, err := cgminer.NewClient(cgminer.Config{
		Host:       ip,
		Port:       s.cfg.ControlPort,
		Timeout:    s.cfg.ProbeTimeout,
		MaxRetries: 0,
	})
	if err != nil {
		return nil
	}

	reply, err := client.Call(ctx, "version", "")
	if err != nil {
		return nil
	}

	model := versionModel(reply)
	found := &types.DiscoveredMiner{
		IPAddress:      ip,
		DetectedModel:  model,
		DetectedFamily: IdentifyFamily(model),
		ControlPort:    s.cfg.ControlPort,
		DiscoveredAt:   time.Now().UTC(),
	}

	if s.cfg.HTTPFingerprint {
		if port, hint := s.fingerprintWeb(ctx, ip); port > 0 {
			found.WebPort = port
			if found.DetectedFamily == FamilyUnknown && hint != FamilyUnknown {
				found.DetectedFamily = hint
			}
		}
	}
	return found
}

// versionModel joins the identifying fields of a version reply
func versionModel(reply map[string]interface{}) string {
	var parts []string
	for _, section := range cgminer.Section(reply, "VERSION") {
		for _, key := range []string{"Type", "Miner", "CGMiner", "BMMiner", "CompileTime"} {
			if v, ok := section[key].(string); ok && v != "" {
				parts = append(parts, v)
			}
		}
	}
	return strings.Join(parts, " ")
}

// fingerprintWeb tries the known console ports and sniffs the response
// for a family hint. First reachable port wins.
func (s *Scanner) fingerprintWeb(ctx context.Context, ip string) (int, string) {
	client := &http.Client{
		Timeout: s.cfg.ProbeTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	for _, port := range webPorts {
		scheme := "http"
		if port == 443 {
			scheme = "https"
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s://%s:%d/", scheme, ip, port), nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		hint := IdentifyFamily(resp.Header.Get("Server") + " " + resp.Header.Get("WWW-Authenticate") + " " + string(body))
		return port, hint
	}
	return 0, FamilyUnknown
}
