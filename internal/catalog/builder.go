package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "pkgwatch/pkg/logx"
)

// Source describes one catalog fetch. The watch service rebuilds it from the
// current config every cycle so hot reloads take effect without restarts.
type Source struct {
	Endpoint      string
	Timeout       time.Duration
	IncludeHidden bool
}

// Builder fetches the remote catalog and reduces it to a Snapshot.
type Builder struct {
	http *http.Client
	log  logx.Logger
}

func NewBuilder(log logx.Logger) *Builder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Builder{
		http: &http.Client{},
		log:  log,
	}
}

// Build performs one fetch+reduce. Errors are returned to the caller: a failed
// cycle is simply retried on the next tick, the previous snapshot stays valid.
func (b *Builder) Build(ctx context.Context, src Source) (Snapshot, error) {
	if strings.TrimSpace(src.Endpoint) == "" {
		return nil, errors.New("catalog endpoint is empty")
	}

	timeout := src.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, fmt.Errorf("catalog fetch: http %d from %s", resp.StatusCode, src.Endpoint)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("catalog read: %w", err)
	}

	pkgs, err := decodePackages(body)
	if err != nil {
		return nil, err
	}
	return reduce(pkgs, src.IncludeHidden), nil
}

func decodePackages(body []byte) ([]rawPackage, error) {
	var list []rawPackage
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}
	var doc rawDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("catalog decode: %w", err)
	}
	return doc.Packages, nil
}

// reduce applies the visibility filter and de-duplicates by name (last entry
// wins, keeping the invariant of at most one entry per name).
func reduce(pkgs []rawPackage, includeHidden bool) Snapshot {
	snap := make(Snapshot, len(pkgs))
	for _, p := range pkgs {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			name = strings.TrimSpace(p.Manifest.Name)
		}
		if name == "" {
			continue
		}
		if p.Manifest.Hidden && !includeHidden {
			continue
		}
		e := Entry{
			Name:         name,
			Version:      p.Package.Version,
			Hidden:       p.Manifest.Hidden,
			Description:  p.Manifest.Description.Plain,
			Descriptions: p.Manifest.Description.Localized,
		}
		if p.Package.Publisher != nil {
			e.Publisher = p.Package.Publisher.Username
		}
		snap[name] = e
	}
	return snap
}
