package legacy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"go.uber.org/zap"

	"siapxml/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// Connection Strategy Resolver
// ─────────────────────────────────────────────────────────────

// Strategy is one way of reaching the legacy database.
type Strategy string

const (
	StrategyNetwork Strategy = "network"
	StrategyLocal   Strategy = "local"
)

// ErrRemoteInPath disqualifies the local strategy for "host:path" values.
var ErrRemoteInPath = errors.New("path names a remote host")

// Target is a resolved driver endpoint for one strategy.
type Target struct {
	Strategy Strategy
	Host     string // host[:port]
	File     string // database file as the server sees it
	DSN      string // driver connection string
}

// DB is the subset of *sql.DB the connector needs.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Close() error
}

// Opener opens and verifies a connection to a target.
type Opener func(ctx context.Context, t Target) (DB, error)

// Attempt records the outcome of one strategy.
type Attempt struct {
	Strategy Strategy
	Target   Target
	Err      error
}

// Connect tries the network strategy, then the local one, and classifies
// the failure when both are exhausted. It never retries a strategy.
func Connect(ctx context.Context, params domain.LegacyConnectionParams, open Opener, log *zap.Logger) (*Connection, error) {
	if log == nil {
		log = zap.NewNop()
	}
	params = params.Normalize()
	if params.Path == "" {
		return nil, domain.NewError(domain.KindPathNotFound, "empty database path", nil)
	}
	if err := checkLocalPath(params.Path); err != nil {
		return nil, err
	}

	var attempts []Attempt
	for _, strategy := range []Strategy{StrategyNetwork, StrategyLocal} {
		target, err := resolveTarget(strategy, params)
		if err != nil {
			attempts = append(attempts, Attempt{Strategy: strategy, Err: err})
			log.Debug("strategy disqualified", zap.String("strategy", string(strategy)), zap.Error(err))
			continue
		}
		db, err := open(ctx, target)
		if err != nil {
			attempts = append(attempts, Attempt{Strategy: strategy, Target: target, Err: err})
			log.Info("strategy failed",
				zap.String("strategy", string(strategy)),
				zap.String("host", target.Host),
				zap.Error(err),
			)
			continue
		}
		log.Info("connected", zap.String("strategy", string(strategy)), zap.String("host", target.Host))
		return newConnection(db, strategy, params.Charset), nil
	}
	return nil, classify(params, attempts)
}

// checkLocalPath fails fast with PathNotFound when the path is a local
// file that does not exist. Remote paths are left to the server.
func checkLocalPath(path string) error {
	host, file := splitHost(path)
	if host != "" && !isLoopback(host) {
		return nil
	}
	if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
		return &domain.Error{
			Kind:    domain.KindPathNotFound,
			Message: fmt.Sprintf("database file %s does not exist", file),
		}
	}
	return nil
}

// LocalFile returns the database file of a path served from this machine,
// with quotes trimmed. It reports false for remote hosts.
func LocalFile(path string) (string, bool) {
	host, file := splitHost(domain.LegacyConnectionParams{Path: path}.Normalize().Path)
	if host != "" && !isLoopback(host) {
		return "", false
	}
	return file, file != ""
}

// splitHost separates "host:path". A colon at index 1 is a drive letter.
func splitHost(path string) (host, file string) {
	i := strings.Index(path, ":")
	if i <= 1 {
		return "", path
	}
	return path[:i], path[i+1:]
}

func isLoopback(host string) bool {
	h := strings.ToLower(host)
	if i := strings.IndexAny(h, "/:"); i >= 0 {
		h = h[:i]
	}
	return h == "localhost" || h == "127.0.0.1" || h == "::1"
}

// hasRemoteSegment reports a colon anywhere but the drive-letter position.
func hasRemoteSegment(path string) bool {
	for i, c := range path {
		if c == ':' && i != 1 {
			return true
		}
	}
	return false
}

func resolveTarget(strategy Strategy, p domain.LegacyConnectionParams) (Target, error) {
	switch strategy {
	case StrategyNetwork:
		host, file := splitHost(p.Path)
		if host == "" {
			host = "localhost"
		}
		// Firebird writes the port as host/3050.
		host = strings.Replace(host, "/", ":", 1)
		q := url.Values{}
		setCommon(q, p)
		return Target{Strategy: strategy, Host: host, File: file, DSN: buildDSN(p, host, file, q)}, nil

	case StrategyLocal:
		file := strings.ReplaceAll(p.Path, "localhost:", "")
		if hasRemoteSegment(file) {
			return Target{}, fmt.Errorf("%w: %s", ErrRemoteInPath, p.Path)
		}
		file = strings.ReplaceAll(file, `\`, "/")
		q := url.Values{}
		setCommon(q, p)
		q.Set("auth_plugin_name", "Legacy_Auth")
		q.Set("wire_crypt", "false")
		return Target{Strategy: strategy, Host: "localhost", File: file, DSN: buildDSN(p, "localhost", file, q)}, nil
	}
	return Target{}, fmt.Errorf("unknown strategy %q", strategy)
}

func setCommon(q url.Values, p domain.LegacyConnectionParams) {
	if p.Role != "" {
		q.Set("role", p.Role)
	}
	if p.Charset != "" {
		q.Set("charset", p.Charset)
	}
}

// buildDSN renders user:password@host/file?params for firebirdsql.
func buildDSN(p domain.LegacyConnectionParams, host, file string, q url.Values) string {
	dsn := url.UserPassword(p.User, p.Password).String() + "@" + host + "/" + file
	if enc := q.Encode(); enc != "" {
		dsn += "?" + enc
	}
	return dsn
}

// ── Failure classification ─────────────────────────────────

func classify(p domain.LegacyConnectionParams, attempts []Attempt) error {
	var lines []string
	var errs []error
	for _, a := range attempts {
		lines = append(lines, fmt.Sprintf("%s: %v", a.Strategy, a.Err))
		errs = append(errs, a.Err)
	}
	diag := strings.Join(lines, "\n")
	text := strings.ToLower(diag)
	joined := errors.Join(errs...)

	switch {
	case strings.Contains(text, "fb_interpret"):
		return &domain.Error{
			Kind: domain.KindDriverIncompatible,
			Message: "the legacy server rejected the client protocol; " +
				"check that the server version matches the bundled worker",
			Diagnostic: diag,
			Err:        joined,
		}
	case strings.Contains(text, "unavailable database"):
		_, file := splitHost(strings.ReplaceAll(p.Path, "localhost:", ""))
		if _, err := os.Stat(file); err == nil {
			return &domain.Error{
				Kind: domain.KindLocalAccessDenied,
				Message: fmt.Sprintf("database %s exists but is locked by another process "+
					"or not readable by the server", file),
				Diagnostic: diag,
				Err:        joined,
			}
		}
		return &domain.Error{
			Kind:       domain.KindPathNotFound,
			Message:    fmt.Sprintf("database %s not found by the server", file),
			Diagnostic: diag,
			Err:        joined,
		}
	default:
		return &domain.Error{
			Kind:       domain.KindTransportFailed,
			Message:    "could not reach the legacy database with any strategy",
			Diagnostic: diag,
			Err:        joined,
		}
	}
}
