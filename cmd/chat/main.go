// Command chat is a terminal client for the chat service. It logs in,
// opens a session and renders the timeline as it changes. Device
// capabilities are filesystem-backed: /photo reads a file, /voice
// records from a file, /location reports a fixed position.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"guardian/internal/capture"
	"guardian/internal/chat"
	"guardian/internal/config"
	"guardian/internal/media"
	"guardian/internal/message"
	"guardian/internal/timeline"
	"guardian/internal/transport"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	configPath := flag.String("config", "config.yaml", "path to config file")
	email := flag.String("email", "", "login email")
	photoPath := flag.String("photo", "", "file served by the camera capability")
	audioPath := flag.String("audio", "", "file served by the recorder capability")
	flag.Parse()

	if *email == "" {
		fmt.Fprintln(os.Stderr, "usage: chat -email you@example.com [-config config.yaml]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	login, err := loginRequest(cfg.Server.BaseURL, *email)
	if err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("logged in as %s\n", login.Username)

	store, err := media.NewStore(cfg.Storage.MediaRoot, cfg.Storage.MediaMaxBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing media store: %v\n", err)
		os.Exit(1)
	}

	captureService := capture.NewService(
		capture.AllowAllPermissions(),
		&capture.FileCamera{Path: *photoPath},
		&capture.DirLibrary{Dir: cfg.Storage.MediaRoot},
		&capture.FixedLocator{Position: capture.Position{Latitude: 59.9139, Longitude: 10.7522}},
		&capture.StaticGeocoder{},
		&capture.FileRecorder{Path: *audioPath},
		store,
	)

	session := transport.NewSession(transport.Options{
		URL:                  cfg.Session.URL,
		Token:                login.Token,
		Username:             login.Username,
		DialTimeout:          cfg.Session.DialTimeout,
		ReconnectBase:        cfg.Session.ReconnectBase,
		ReconnectCap:         cfg.Session.ReconnectCap,
		ReconnectMaxAttempts: cfg.Session.ReconnectMaxAttempts,
	})
	defer session.Close()

	tl := timeline.New(session)
	controller := chat.NewController(session, tl, captureService)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := session.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
		os.Exit(1)
	}

	go controller.Run(ctx)
	go renderLoop(ctx, tl, controller)

	inputLoop(ctx, controller)
}

type loginResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

func loginRequest(baseURL, email string) (*loginResponse, error) {
	body, err := json.Marshal(map[string]string{
		"email":    email,
		"password": "any",
	})
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(baseURL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var login loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return nil, err
	}
	return &login, nil
}

func renderLoop(ctx context.Context, tl *timeline.Timeline, controller *chat.Controller) {
	updates := tl.Subscribe()
	statuses := controller.StatusChanges()

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-statuses:
			fmt.Printf("-- %s --\n", s)
		case snapshot := <-updates:
			if len(snapshot) == 0 {
				continue
			}
			m := snapshot[len(snapshot)-1]
			fmt.Println(renderMessage(m))
		}
	}
}

func renderMessage(m message.Message) string {
	var body string
	switch m.Kind {
	case message.KindImage:
		body = fmt.Sprintf("[photo %s] %s", m.ResourceRef, m.Text)
	case message.KindLocation:
		body = fmt.Sprintf("[%.4f, %.4f] %s", m.Latitude, m.Longitude, m.Text)
	case message.KindAudio:
		body = fmt.Sprintf("[audio %s] %s", m.ResourceRef, m.Text)
	default:
		body = m.Text
	}

	marker := ""
	switch m.Delivery {
	case message.DeliveryPending:
		marker = " (sending)"
	case message.DeliveryFailed:
		marker = " (failed, /retry " + m.ID + ")"
	}

	return fmt.Sprintf("%s %s: %s%s", m.CreatedAt.Local().Format("15:04:05"), m.SenderName, body, marker)
}

func inputLoop(ctx context.Context, controller *chat.Controller) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var err error
		switch {
		case line == "/quit":
			return

		case line == "/photo":
			_, err = controller.SharePhoto(ctx, capture.SourceCamera)

		case line == "/library":
			_, err = controller.SharePhoto(ctx, capture.SourceLibrary)

		case line == "/location":
			_, err = controller.ShareLocation(ctx)

		case line == "/voice":
			if err = controller.StartVoiceMessage(ctx); err == nil {
				fmt.Println("recording, /stop to send")
			}

		case line == "/stop":
			_, err = controller.FinishVoiceMessage(ctx)

		case strings.HasPrefix(line, "/retry "):
			err = controller.Retry(strings.TrimPrefix(line, "/retry "))

		case strings.HasPrefix(line, "/"):
			fmt.Println("commands: /photo /library /location /voice /stop /retry <id> /quit")

		default:
			_, err = controller.SendText(line)
		}

		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}
