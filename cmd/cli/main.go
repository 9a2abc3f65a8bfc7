// Command collabctl is a CLI client for the collaboration server.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/and161185/collab-studio/internal/crypto"
	grpcserver "github.com/and161185/collab-studio/internal/server/grpc"
	"github.com/and161185/collab-studio/internal/service"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "collabctl")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "collabctl")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

// tokenExpiry reads exp from a JWT without verifying it.
func tokenExpiry(tok string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Now().Add(15 * time.Minute), nil
	}
	return claims.ExpiresAt.Time, nil
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

type dialOpts struct {
	addr       string
	caPath     string
	skipVerify bool
	plaintext  bool
}

func dial(o dialOpts, bearer string) (*grpc.ClientConn, *grpcserver.Client, error) {
	var creds credentials.TransportCredentials
	if o.plaintext {
		creds = insecure.NewCredentials()
	} else {
		var err error
		if creds, err = loadTLS(o.caPath, o.skipVerify); err != nil {
			return nil, nil, err
		}
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, secure: !o.plaintext}))
	}
	cc, err := grpc.NewClient(o.addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cc, grpcserver.NewClient(cc), nil
}

// ---- utils ----

// issuedToken is what `token` prints: everything needed to open the websocket.
type issuedToken struct {
	UUID   string `json:"uuid"`
	User   string `json:"user"`
	Secret string `json:"secret"`
}

const secretBytes = 16

// connectionSecret returns s, or a fresh random secret when s is empty.
func connectionSecret(s string) (string, error) {
	if s != "" {
		return s, nil
	}
	sec, err := crypto.RandSecret(secretBytes)
	if err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return sec, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `collabctl
Usage:
  collabctl -addr HOST:PORT [-cacert file | -insecure | -plaintext] <cmd> [args]

Commands:
  version
  login           -token <jwt>                              (saves token)
  issue-dev-token -key <signing key> -user <name> [-ttl d]  (saves token)
  token           -design <id> [-secret <s>] [-version n]
  edit            -design <id> [-secret <s>] [-ws http://host:port]
  rollup          -design <id>
  editors         -design <id>
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/auth for RPC calls.
func main() {
	// global flags
	var o dialOpts
	flag.StringVar(&o.addr, "addr", "localhost:8443", "server gRPC addr")
	flag.StringVar(&o.caPath, "cacert", "", "CA cert (PEM)")
	flag.BoolVar(&o.skipVerify, "insecure", false, "skip cert verify (dev)")
	flag.BoolVar(&o.plaintext, "plaintext", false, "no TLS (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {

	case "version":
		fmt.Printf("collabctl %s (%s)\n", version, buildDate)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		tok := fs.String("token", "", "bearer token (JWT)")
		_ = fs.Parse(args)
		if *tok == "" {
			fmt.Fprintln(os.Stderr, "need -token")
			os.Exit(1)
		}
		exp, err := tokenExpiry(*tok)
		if err != nil {
			fail(fmt.Errorf("parse token: %w", err))
		}
		if err := saveToken(*tok, exp); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "issue-dev-token":
		fs := flag.NewFlagSet("issue-dev-token", flag.ExitOnError)
		key := fs.String("key", "", "server signing key")
		user := fs.String("user", "", "user name")
		ttl := fs.Duration("ttl", 15*time.Minute, "token TTL")
		_ = fs.Parse(args)
		if *key == "" || *user == "" {
			fmt.Fprintln(os.Stderr, "need -key and -user")
			os.Exit(1)
		}
		tok, exp, err := service.NewIdentity([]byte(*key), *ttl).Issue(*user)
		if err != nil {
			fail(err)
		}
		if err := saveToken(tok, exp); err != nil {
			fail(err)
		}
		fmt.Println(tok)

	case "token":
		fs := flag.NewFlagSet("token", flag.ExitOnError)
		design := fs.String("design", "", "design id")
		secret := fs.String("secret", "", "connection secret (random when empty)")
		ver := fs.Int64("version", 0, "content version held locally (0 = latest)")
		_ = fs.Parse(args)
		if *design == "" {
			fmt.Fprintln(os.Stderr, "need -design")
			os.Exit(1)
		}
		sec, err := connectionSecret(*secret)
		if err != nil {
			fail(err)
		}

		cc, cli := mustDial(o)
		defer cc.Close()

		out, err := cli.CreateToken(ctx, &grpcserver.CreateTokenRequest{DesignID: *design, Secret: sec, ContentVersion: *ver})
		if err != nil {
			fail(err)
		}
		printJSON(issuedToken{UUID: out.UUID, User: out.User, Secret: sec})

	case "edit":
		fs := flag.NewFlagSet("edit", flag.ExitOnError)
		design := fs.String("design", "", "design id")
		secret := fs.String("secret", "", "connection secret (random when empty)")
		ver := fs.Int64("version", 0, "content version held locally (0 = latest)")
		wsBase := fs.String("ws", "http://localhost:8080", "server HTTP base URL")
		_ = fs.Parse(args)
		if *design == "" {
			fmt.Fprintln(os.Stderr, "need -design")
			os.Exit(1)
		}
		sec, err := connectionSecret(*secret)
		if err != nil {
			fail(err)
		}

		cc, cli := mustDial(o)
		tok, err := cli.CreateToken(ctx, &grpcserver.CreateTokenRequest{DesignID: *design, Secret: sec, ContentVersion: *ver})
		_ = cc.Close()
		if err != nil {
			fail(err)
		}

		u, err := editURL(*wsBase, *design, tok.UUID, tok.User, sec)
		if err != nil {
			fail(err)
		}
		sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := edit(sigCtx, u, os.Stdin, os.Stdout); err != nil {
			fail(err)
		}

	case "rollup":
		fs := flag.NewFlagSet("rollup", flag.ExitOnError)
		design := fs.String("design", "", "design id")
		_ = fs.Parse(args)
		if *design == "" {
			fmt.Fprintln(os.Stderr, "need -design")
			os.Exit(1)
		}

		cc, cli := mustDial(o)
		defer cc.Close()

		out, err := cli.Rollup(ctx, &grpcserver.RollupRequest{DesignID: *design})
		if err != nil {
			fail(err)
		}
		printJSON(out)

	case "editors":
		fs := flag.NewFlagSet("editors", flag.ExitOnError)
		design := fs.String("design", "", "design id")
		_ = fs.Parse(args)
		if *design == "" {
			fmt.Fprintln(os.Stderr, "need -design")
			os.Exit(1)
		}

		cc, cli := mustDial(o)
		defer cc.Close()

		out, err := cli.ListEditors(ctx, &grpcserver.ListEditorsRequest{DesignID: *design})
		if err != nil {
			fail(err)
		}
		printJSON(out.Editors)

	default:
		usage()
	}
}

// ---- helpers ----

func mustDial(o dialOpts) (*grpc.ClientConn, *grpcserver.Client) {
	token, err := loadToken()
	if err != nil {
		fail(err)
	}
	cc, cli, err := dial(o, token)
	if err != nil {
		fail(err)
	}
	return cc, cli
}

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
