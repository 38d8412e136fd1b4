package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("无法加载 .env，改用系统环境变量")
	}

	defaultURL := "ws://localhost:8080/ws"
	if port := os.Getenv("PORT"); port != "" && !strings.Contains(port, ":") {
		defaultURL = fmt.Sprintf("ws://localhost:%s/ws", port)
	}

	url := flag.String("url", defaultURL, "relay WebSocket 地址")
	widget := flag.String("widget", "wid_tester", "widget id")
	visitor := flag.String("visitor", fmt.Sprintf("vis_%d", time.Now().UnixNano()), "visitor id")
	conversation := flag.String("conversation", "", "加入已有会话，留空则自动生成")
	message := flag.String("message", "Hello, can you help me?", "发送的消息内容")
	timeout := flag.Duration("timeout", 60*time.Second, "等待回复的超时时间")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		log.Fatal().Err(err).Str("url", *url).Msg("连接失败")
	}
	defer conn.Close()

	send(conn, chat.EventJoin, chat.JoinPayload{WidgetID: *widget, VisitorID: *visitor, ConversationID: *conversation})

	deadline := time.Now().Add(*timeout)
	var conversationID string
	var reply strings.Builder
	start := time.Now()
	var firstChunk time.Duration

	for {
		_ = conn.SetReadDeadline(deadline)
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			log.Fatal().Err(err).Msg("读取失败")
		}

		switch f.Event {
		case chat.EventJoined:
			var p chat.JoinedPayload
			_ = json.Unmarshal(f.Data, &p)
			conversationID = p.ConversationID
			log.Info().Str("conversation", conversationID).Msg("joined")
			start = time.Now()
			send(conn, chat.EventMessage, chat.MessagePayload{ConversationID: conversationID, Content: *message})
		case chat.EventAgentStreaming:
			var p chat.StreamingPayload
			_ = json.Unmarshal(f.Data, &p)
			if reply.Len() == 0 {
				firstChunk = time.Since(start)
			}
			reply.WriteString(p.Chunk)
			fmt.Print(p.Chunk)
		case chat.EventAgentComplete:
			fmt.Println()
			log.Info().
				Dur("first_chunk", firstChunk).
				Dur("total", time.Since(start)).
				Int("length", reply.Len()).
				Msg("reply complete")
			return
		case chat.EventError:
			var p chat.ErrorPayload
			_ = json.Unmarshal(f.Data, &p)
			log.Fatal().Str("code", p.Code).Msg(p.Message)
		default:
			log.Debug().Str("event", f.Event).RawJSON("data", f.Data).Msg("event")
		}
	}
}

func send(conn *websocket.Conn, event string, data any) {
	if err := conn.WriteJSON(map[string]any{"event": event, "data": data}); err != nil {
		log.Fatal().Err(err).Str("event", event).Msg("发送失败")
	}
}
