package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"github.com/astromechza/collab-ot/pkg/gateway"
	"github.com/astromechza/collab-ot/pkg/ot"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	flags := pflag.NewFlagSet("collab-client", pflag.ContinueOnError)
	addrVar := flags.String("addr", "127.0.0.1:8080", "the address to request on")
	fileVar := flags.Int64("file", 0, "the file to edit")
	intervalVar := flags.Duration("interval", time.Second, "minimum delay between edits")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}
	baseUrl, err := url.Parse("http://" + *addrVar)
	if err != nil {
		return err
	}

	c := &client{baseUrl: baseUrl, fileID: *fileVar, interval: *intervalVar, name: strconv.Itoa(os.Getpid())}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.connectAndEditContinuously(ctx)
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()

	wg.Wait()

	version, content := c.state()
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("file-%d-%s.txt", c.fileID, c.name))
	if err := os.WriteFile(tf, []byte(content), 0o644); err != nil {
		return err
	}
	slog.Info("dumped", "dump", tf, "version", version)
	return nil
}

// client mirrors the server copy of one file. Local edits are only applied
// once the server broadcasts them back, so content always equals the server
// content at version.
type client struct {
	baseUrl  *url.URL
	fileID   int64
	interval time.Duration
	name     string

	mu      sync.Mutex
	ready   bool
	version int
	content string
	seq     int
}

func (c *client) state() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version, c.content
}

func (c *client) connectAndEditContinuously(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		if err := c.connectAndEdit(ctx); err != nil {
			slog.Error("connection failed", "err", err)
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			slog.Info("stopping edits")
			return
		}
	}
}

func (c *client) connectAndEdit(ctx context.Context) error {
	u := c.baseUrl.JoinPath("files", strconv.FormatInt(c.fileID, 10), "ws")
	u.Scheme = "ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()
	c.mu.Lock()
	c.ready = false
	c.mu.Unlock()

	rejoin := make(chan struct{}, 1)
	errs := make(chan error, 2)
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer conn.Close()
		for {
			var msg gateway.Message
			if err := conn.ReadJSON(&msg); err != nil {
				errs <- fmt.Errorf("failed to read message: %w", err)
				return
			}
			if c.receive(msg) {
				select {
				case rejoin <- struct{}{}:
				default:
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer conn.Close()
		for {
			t := time.NewTimer(c.interval + c.interval*time.Duration(rand.Intn(5)))
			select {
			case <-t.C:
				if req, ok := c.nextEdit(); ok {
					if err := conn.WriteJSON(req); err != nil {
						errs <- fmt.Errorf("failed to write message: %w", err)
						return
					}
				}
			case <-rejoin:
				t.Stop()
				if err := conn.WriteJSON(gateway.Request{Type: gateway.TypeJoin, FileID: c.fileID}); err != nil {
					errs <- fmt.Errorf("failed to rejoin: %w", err)
					return
				}
			case <-ctx.Done():
				t.Stop()
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}()

	wg.Wait()
	select {
	case err := <-errs:
		if ctx.Err() != nil {
			return nil
		}
		return err
	default:
		return nil
	}
}

// receive folds a server message into the local copy and reports whether
// the client has to join again.
func (c *client) receive(msg gateway.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Type {
	case gateway.TypeReady:
		c.ready, c.version, c.content = true, *msg.Version, *msg.Content
		slog.Info("ready", "file", c.fileID, "version", c.version, "size", utf8.RuneCountInString(c.content))
	case gateway.TypeApplied:
		if !c.ready {
			return false
		}
		if *msg.Version != c.version+1 {
			slog.Warn("missed an update", "have", c.version, "got", *msg.Version)
			c.ready = false
			return true
		}
		next, err := ot.Apply(c.content, msg.Components)
		if err != nil {
			slog.Warn("failed to apply update", "version", *msg.Version, "err", err)
			c.ready = false
			return true
		}
		c.content, c.version = next, *msg.Version
		slog.Debug("applied", "version", c.version, "op", msg.Components.String(), "from", msg.ClientID)
	case gateway.TypeResync:
		slog.Info("resync requested", "version", *msg.Version)
		c.ready = false
		return true
	case gateway.TypeError:
		slog.Error("server error", "file", msg.FileID, "message", msg.Message)
	}
	return false
}

// nextEdit builds one to three random edits against the current copy and
// composes them into a single submission.
func (c *client) nextEdit() (gateway.Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return gateway.Request{}, false
	}
	content := c.content
	var op ot.Operation
	for i, n := 0, 1+rand.Intn(3); i < n; i++ {
		edit := randomEdit(content)
		next, err := ot.Apply(content, edit)
		if err != nil {
			slog.Error("generated an invalid edit", "op", edit.String(), "err", err)
			return gateway.Request{}, false
		}
		op = ot.Compose(op, edit)
		content = next
	}
	c.seq++
	slog.Info("submitting", "base", c.version, "op", op.String())
	return gateway.Request{
		Type:        gateway.TypeSubmit,
		FileID:      c.fileID,
		BaseVersion: c.version,
		Components:  op,
		ClientID:    fmt.Sprintf("%s-%d", c.name, c.seq),
	}, true
}

const letters = "abcdefghijklmnopqrstuvwxyz "

func randomEdit(content string) ot.Operation {
	n := utf8.RuneCountInString(content)
	pos := rand.Intn(n + 1)
	if n > 0 && pos < n && rand.Intn(3) == 0 {
		return ot.Normalize(ot.Operation{ot.Retain(pos), ot.Delete(1)})
	}
	return ot.Normalize(ot.Operation{ot.Retain(pos), ot.Insert(string(letters[rand.Intn(len(letters))]))})
}
