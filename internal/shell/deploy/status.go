package deploy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strconv"
	"strings"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/core/monitoring"
	"github.com/artpar/shipyard/internal/shell/probe"
	"github.com/artpar/shipyard/internal/shell/remote"
	units "github.com/docker/go-units"
)

// ServiceStatus is one row of docker compose ps.
type ServiceStatus struct {
	Name     string `json:"Name"`
	Service  string `json:"Service"`
	State    string `json:"State"`
	Health   string `json:"Health"`
	Status   string `json:"Status"`
	ExitCode int    `json:"ExitCode"`
}

// DiskUsage is the filesystem holding the base path.
type DiskUsage struct {
	Filesystem string
	MountPoint string
	Total      uint64
	Used       uint64
	Available  uint64
}

func (d DiskUsage) String() string {
	return fmt.Sprintf("%s used of %s (%s free) on %s",
		units.BytesSize(float64(d.Used)), units.BytesSize(float64(d.Total)),
		units.BytesSize(float64(d.Available)), d.MountPoint)
}

// MemoryUsage is the host's memory.
type MemoryUsage struct {
	Total     uint64
	Used      uint64
	Available uint64
}

func (m MemoryUsage) String() string {
	return fmt.Sprintf("%s used of %s (%s available)",
		units.BytesSize(float64(m.Used)), units.BytesSize(float64(m.Total)),
		units.BytesSize(float64(m.Available)))
}

// StatusReport is the read-only view of the target.
type StatusReport struct {
	Target   string
	Overall  domain.HealthStatus
	Services []ServiceStatus
	Health   probe.Result
	Edge     *probe.Result // nil without an edge URL
	Disk     *DiskUsage
	Memory   *MemoryUsage
	Problems []string // sections that could not be gathered
}

// Reporter gathers status and streams logs. It never changes the target.
type Reporter struct {
	Transport  remote.Transport
	Target     domain.DeployTarget
	Probe      domain.HealthProbe
	Prober     probe.Prober // Default: probe.Remote over Transport
	EdgeURL    string
	EdgeProber probe.Prober // Default: probe.HTTP
	LogTail    int          // Default: DefaultLogTail
	Logger     *slog.Logger
}

// Status collects service states, a single health probe, disk and memory
// usage, and the edge probe when an edge URL is configured. Only a failing
// docker compose ps is an error; other sections are reported as problems.
func (r *Reporter) Status(ctx context.Context) (*StatusReport, error) {
	logger := loggerOr(r.Logger).With("component", "status")
	report := &StatusReport{Target: r.Target.String()}

	out, err := r.Transport.Run(ctx, compose{target: r.Target}.ps())
	if err != nil {
		return nil, fmt.Errorf("%w: ps: %w", ErrComposeFailed, err)
	}
	if report.Services, err = ParseComposePS(out); err != nil {
		return nil, fmt.Errorf("%w: ps: %w", ErrComposeFailed, err)
	}

	prober := r.Prober
	if prober == nil {
		prober = probe.Remote{Transport: r.Transport}
	}
	report.Health = prober.Probe(ctx, r.Probe)

	verdicts := make([]domain.HealthStatus, 0, len(report.Services))
	for _, svc := range report.Services {
		verdicts = append(verdicts, monitoring.ServiceHealth(svc.State, svc.Health))
	}
	report.Overall = monitoring.Aggregate(verdicts, report.Health.OK())

	if out, err := r.Transport.Run(ctx, remote.Join("df", "-P", "-k", r.Target.BasePath)); err != nil {
		report.Problems = append(report.Problems, "disk: "+err.Error())
	} else if report.Disk, err = ParseDF(out); err != nil {
		report.Problems = append(report.Problems, "disk: "+err.Error())
	}

	if out, err := r.Transport.Run(ctx, "free -b"); err != nil {
		report.Problems = append(report.Problems, "memory: "+err.Error())
	} else if report.Memory, err = ParseFree(out); err != nil {
		report.Problems = append(report.Problems, "memory: "+err.Error())
	}

	if r.EdgeURL != "" {
		edge := r.EdgeProber
		if edge == nil {
			edge = probe.HTTP{}
		}
		p := r.Probe
		p.URL = r.EdgeURL
		res := edge.Probe(ctx, p)
		report.Edge = &res
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger.Debug("status gathered", "services", len(report.Services), "problems", len(report.Problems))
	return report, nil
}

// Logs streams log lines of one service, or of every service when service is
// empty. With follow the sequence ends only when ctx is cancelled, which is
// not reported as an error.
func (r *Reporter) Logs(ctx context.Context, service string, follow bool) iter.Seq2[string, error] {
	tail := r.LogTail
	if tail <= 0 {
		tail = DefaultLogTail
	}
	cmd := compose{target: r.Target}.logs(service, tail, follow)

	return func(yield func(string, error) bool) {
		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		pr, pw := io.Pipe()
		done := make(chan struct{})
		go func() {
			defer close(done)
			pw.CloseWithError(r.Transport.Stream(streamCtx, cmd, pw))
		}()

		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if !yield(scanner.Text(), nil) {
				cancel()
				pr.Close()
				<-done
				return
			}
		}

		err := scanner.Err()
		pr.Close()
		<-done

		if err != nil && ctx.Err() == nil {
			yield("", fmt.Errorf("logs: %w", err))
		}
	}
}

// =============================================================================
// Output Parsing
// =============================================================================

// ParseComposePS decodes docker compose ps --format json, which is a JSON
// array in older compose releases and one object per line in newer ones.
func ParseComposePS(out []byte) ([]ServiceStatus, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}

	if out[0] == '[' {
		var services []ServiceStatus
		if err := json.Unmarshal(out, &services); err != nil {
			return nil, fmt.Errorf("decode ps output: %w", err)
		}
		return services, nil
	}

	var services []ServiceStatus
	dec := json.NewDecoder(bytes.NewReader(out))
	for {
		var s ServiceStatus
		err := dec.Decode(&s)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode ps output: %w", err)
		}
		services = append(services, s)
	}
	return services, nil
}

// ParseDF reads the data line of df -P -k.
func ParseDF(out []byte) (*DiskUsage, error) {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("unexpected df output %q", string(out))
	}

	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 6 {
		return nil, fmt.Errorf("unexpected df line %q", lines[len(lines)-1])
	}

	var kb [3]uint64
	for i := range kb {
		v, err := strconv.ParseUint(fields[i+1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse df field %q: %w", fields[i+1], err)
		}
		kb[i] = v * 1024
	}

	return &DiskUsage{
		Filesystem: fields[0],
		MountPoint: strings.Join(fields[5:], " "),
		Total:      kb[0],
		Used:       kb[1],
		Available:  kb[2],
	}, nil
}

// ParseFree reads the Mem: line of free -b. Available comes from the
// "available" column when the header has one.
func ParseFree(out []byte) (*MemoryUsage, error) {
	availableCol := -1
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if fields[0] != "Mem:" {
			for i, h := range fields {
				if h == "available" {
					availableCol = i
				}
			}
			continue
		}
		if len(fields) < 3 {
			break
		}

		vals := make([]uint64, 0, len(fields)-1)
		for _, f := range fields[1:] {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse free field %q: %w", f, err)
			}
			vals = append(vals, v)
		}

		m := &MemoryUsage{Total: vals[0], Used: vals[1]}
		if availableCol >= 0 && availableCol < len(vals) {
			m.Available = vals[availableCol]
		} else if m.Total > m.Used {
			m.Available = m.Total - m.Used
		}
		return m, nil
	}
	return nil, fmt.Errorf("no Mem: line in free output %q", string(out))
}
