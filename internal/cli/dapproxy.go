package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/go-dap"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vburojevic/kernelbridge/internal/dapio"
	"github.com/vburojevic/kernelbridge/internal/domain"
	"github.com/vburojevic/kernelbridge/internal/filter"
	"github.com/vburojevic/kernelbridge/internal/jupyter"
	"github.com/vburojevic/kernelbridge/internal/metrics"
	"github.com/vburojevic/kernelbridge/internal/output"
	"github.com/vburojevic/kernelbridge/internal/variables"
)

// DapProxyCmd sits between a DAP client and a debug adapter, rebuilding the
// variable list from the traffic and printing it on every refresh.
type DapProxyCmd struct {
	Listen       string        `default:"127.0.0.1:5678" help:"Address DAP clients connect to"`
	Adapter      string        `help:"TCP address of the debug adapter (host:port)"`
	KernelID     string        `help:"Debug a Jupyter kernel through its control channel"`
	Notebook     bool          `help:"Fetch stack, scopes and variables on every stop"`
	Mode         string        `help:"Notebook refresh mode: everything or cell (default everything)"`
	CellPath     string        `help:"Source path of the cell being debugged (cell mode)"`
	PageSize     int           `help:"Variables per event (default from config)"`
	Sort         string        `default:"name" enum:"name,type" help:"Sort column (name, type)"`
	Descending   bool          `help:"Sort descending"`
	Pattern      string        `short:"p" help:"Regex a variable name must match"`
	Exclude      []string      `short:"x" help:"Regex of variable names to hide (can be repeated)"`
	Where        []string      `short:"w" help:"Field filter such as type=DataFrame or count>=10 (can be repeated)"`
	Dedupe       bool          `help:"Skip events whose page did not change"`
	DedupeWindow time.Duration `help:"With --dedupe, skip a page seen within this window instead of only the previous one"`
	Once         bool          `help:"Serve a single client connection, then exit"`
}

// proxySession lets the bridge evaluate through the proxy
type proxySession struct {
	*dapio.Proxy
	id string
}

func (s proxySession) ID() string { return s.id }

// Run executes the dap-proxy command
func (c *DapProxyCmd) Run(globals *Globals) error {
	if err := validateProxyFlags(globals, c); err != nil {
		return err
	}
	if c.PageSize <= 0 {
		c.PageSize = globals.Config.Variables.PageSize
	}
	pipeline, err := c.pipeline()
	if err != nil {
		return outputErrorCommon(globals, "INVALID_FILTER", err.Error())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	rec, shutdownMetrics := setupMetrics(ctx, globals)
	defer shutdownMetrics()

	ln, err := net.Listen("tcp", c.Listen)
	if err != nil {
		return outputErrorCommon(globals, "LISTEN_FAILED", err.Error(), "pick another --listen address")
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	w := globals.Writer()
	w.WriteReady(&output.Ready{Command: "dap-proxy", Listen: ln.Addr().String(), Timestamp: time.Now().UTC().Format(time.RFC3339)})

	for {
		clientConn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return outputErrorCommon(globals, "ACCEPT_FAILED", err.Error())
		}
		if err := c.serve(ctx, globals, clientConn, w, pipeline, rec); err != nil && ctx.Err() == nil {
			code, hint := classifyError(err)
			w.WriteError(code, err.Error(), hint)
		}
		if c.Once || ctx.Err() != nil {
			return nil
		}
	}
}

func (c *DapProxyCmd) pipeline() (*filter.Pipeline, error) {
	var pattern *regexp.Regexp
	if c.Pattern != "" {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
		pattern = re
	}
	var excludes []*regexp.Regexp
	for _, x := range c.Exclude {
		re, err := regexp.Compile(x)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern: %w", err)
		}
		excludes = append(excludes, re)
	}
	where, err := filter.NewWhereFilter(c.Where)
	if err != nil {
		return nil, err
	}
	return filter.NewPipeline(pattern, excludes, where), nil
}

// serve proxies one client connection until either side hangs up
func (c *DapProxyCmd) serve(ctx context.Context, globals *Globals, clientConn net.Conn, w output.Writer, pipeline *filter.Pipeline, rec metrics.Recorder) error {
	logger := globals.Logger().With(zap.String("client", clientConn.RemoteAddr().String()))
	cfg := globals.Config

	adapter, sessionID, closeAdapter, err := c.dialAdapter(ctx, globals, logger)
	if err != nil {
		clientConn.Close()
		return err
	}
	defer closeAdapter()

	proxy := dapio.NewProxy(dapio.NewStreamTransport(clientConn), adapter, logger)
	bridge := variables.NewBridge(variables.Options{
		Logger:          logger,
		Metrics:         rec,
		ExcludeTypes:    cfg.Variables.ExcludeTypes,
		RefreshDebounce: cfg.Variables.RefreshDebounce,
		Notebook:        c.Notebook,
		Mode:            c.debugMode(),
		MatchSource:     c.matchSource,
	})
	defer bridge.Close()
	proxy.AddInterceptor(bridge)
	bridge.Attach(proxySession{Proxy: proxy, id: sessionID})

	var dedupe *filter.DedupeFilter
	if c.Dedupe {
		dedupe = filter.NewDedupeFilter(nil, c.DedupeWindow)
	}
	var refreshes atomic.Int64
	unsubscribe := bridge.OnRefresh(func() {
		c.publish(ctx, bridge, w, pipeline, dedupe, int(refreshes.Add(1)), logger)
	})
	defer unsubscribe()

	logger.Debug("dap session started", zap.String("session_id", sessionID))
	err = proxy.Run(ctx)
	proxy.Close()
	return err
}

// dialAdapter connects to the TCP adapter or to the kernel's debug channel
func (c *DapProxyCmd) dialAdapter(ctx context.Context, globals *Globals, logger *zap.Logger) (dapio.Transport, string, func(), error) {
	if c.Adapter != "" {
		d := net.Dialer{Timeout: 10 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", c.Adapter)
		if err != nil {
			return nil, "", nil, fmt.Errorf("dial adapter %s: %w", c.Adapter, err)
		}
		return dapio.NewStreamTransport(conn), uuid.NewString(), func() { conn.Close() }, nil
	}

	client, err := jupyter.NewClient(globals.Server, globals.Token, jupyter.WithLogger(logger))
	if err != nil {
		return nil, "", nil, err
	}
	s, err := jupyter.NewSessionManager(client, logger).ConnectTo(ctx, c.KernelID)
	if err != nil {
		return nil, "", nil, err
	}
	t := s.DebugTransport()
	return t, s.ClientID(), func() {
		t.Close()
		s.Close()
	}, nil
}

func (c *DapProxyCmd) debugMode() variables.DebugMode {
	if c.Mode == "cell" {
		return variables.ModeCell
	}
	return variables.ModeEverything
}

func (c *DapProxyCmd) matchSource(src *dap.Source) bool {
	if src == nil || c.CellPath == "" {
		return false
	}
	return src.Path == c.CellPath || filepath.Clean(src.Path) == filepath.Clean(c.CellPath)
}

// publish writes the first page of the refreshed snapshot
func (c *DapProxyCmd) publish(ctx context.Context, bridge *variables.Bridge, w output.Writer, pipeline *filter.Pipeline, dedupe *filter.DedupeFilter, refresh int, logger *zap.Logger) {
	pageSize := c.PageSize
	column := domain.SortByName
	if c.Sort == "type" {
		column = domain.SortByType
	}
	resp, err := bridge.GetVariables(ctx, domain.VariablesRequest{
		PageSize:      pageSize,
		SortColumn:    column,
		SortAscending: !c.Descending,
		RefreshCount:  refresh,
	})
	if err != nil {
		logger.Debug("variables page failed", zap.Error(err))
		return
	}
	resp.PageResponse = pipeline.Apply(resp.PageResponse)

	if dedupe != nil {
		key, _ := json.Marshal(resp.PageResponse)
		if !dedupe.Check(string(key)).ShouldEmit {
			return
		}
	}
	if err := w.WriteVariables(&output.VariablesEvent{Refresh: refresh, VariablesResponse: resp}); err != nil {
		logger.Debug("variables event not written", zap.Error(err))
	}
}
