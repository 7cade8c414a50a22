package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/codewandler/openairtc-go"
	"github.com/codewandler/openairtc-go/events"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var (
		debug       = false
		websocket   = false
		envFile     = ".env"
		model       = openairtc.DefaultModel
		voice       = openairtc.DefaultVoice
		metricsAddr = ""
		audioOut    = ""
		instruction = "You are a helpcenter agent and help the user."
	)

	flag.StringVar(&instruction, "instruction", instruction, "instruction to send to the agent.")
	flag.StringVar(&model, "model", model, "realtime model")
	flag.StringVar(&voice, "voice", voice, "agent voice")
	flag.StringVar(&envFile, "env-file", envFile, "dotenv file to load the api key from")
	flag.StringVar(&metricsAddr, "metrics-addr", metricsAddr, "serve prometheus metrics on this address, e.g. :9090")
	flag.StringVar(&audioOut, "audio-out", audioOut, "write the remote audio as ogg/opus to this file")
	flag.BoolVar(&websocket, "websocket", false, "carry events over a websocket instead of webrtc")
	flag.BoolVar(&debug, "debug", false, "enable debug logs")
	flag.Parse()

	slog.SetLogLoggerLevel(slog.LevelWarn)
	if debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load env file", slog.String("file", envFile), slog.Any("err", err))
	}

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				slog.Error("metrics server stopped", slog.Any("err", err))
			}
		}()
	}

	opts := []openairtc.Option{
		openairtc.WithDefaultLogger(),
		openairtc.WithModel(model),
		openairtc.WithVoice(voice),
		openairtc.WithInstruction(instruction),
	}
	if websocket {
		opts = append(opts, openairtc.WithWebSocket())
	}

	session := openairtc.New(opts...)
	defer session.Close()

	session.OnStatus(func(s openairtc.Status) {
		fmt.Printf("-- %s --\n", s)
	})
	session.OnError(func(err error) {
		fmt.Println("error>", err)
	})
	session.OnEvent(func(e any) {
		switch x := e.(type) {
		case *events.SessionCreatedEvent:
			slog.Debug("session created", slog.String("session", x.Session.ID))
		}
	})

	if audioOut != "" {
		f, err := os.Create(audioOut)
		must(err)
		defer f.Close()
		go copyRemoteAudio(f, session.RemoteAudio())
	}

	must(session.Connect(ctx))

	fmt.Println("commands: r [instructions] = request response, m = toggle mute, t = transcript, q = quit")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !run(session, strings.TrimSpace(line)) {
				return
			}
		}
	}
}

func run(session *openairtc.Session, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")

	switch cmd {
	case "q":
		return false
	case "m":
		fmt.Println("muted:", session.ToggleMute())
	case "r":
		var err error
		if arg == "" {
			err = session.CreateResponse()
		} else {
			err = session.CreateResponseWithPayload(events.ResponseCreatePayload{
				Modalities:   []string{"text", "audio"},
				Instructions: arg,
			})
		}
		if err != nil {
			fmt.Println("error>", err)
		}
	case "t":
		for _, item := range session.Conversation().Items() {
			printItem(item)
		}
	case "":
	default:
		fmt.Println("unknown command:", cmd)
	}

	return true
}

func printItem(item openairtc.ConversationItem) {
	switch {
	case item.Text != nil:
		fmt.Printf("%s> %s\n", item.Role, *item.Text)
	case item.FunctionCall != nil:
		fmt.Printf("%s> %s(%s)\n", item.Role, item.FunctionCall.Name, item.FunctionCall.Arguments)
	case item.FunctionCallOutput != nil:
		fmt.Printf("%s> = %s\n", item.Role, *item.FunctionCallOutput)
	case len(item.Audio) > 0:
		fmt.Printf("%s> [%d bytes audio]\n", item.Role, len(item.Audio))
	}
}

// copyRemoteAudio runs until the session is closed.
func copyRemoteAudio(w io.Writer, r io.Reader) {
	if _, err := io.Copy(w, r); err != nil {
		slog.Error("failed to write remote audio", slog.Any("err", err))
	}
}
