// Command client is a line-based test client for the room server.
//
//	create [name]      create a room
//	join CODE [name]   join a room
//	move N             place a mark on cell N (0-8)
//	restart            clear the board
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wfunc/tictactoe/logger"
	"github.com/wfunc/tictactoe/network"
)

var errUsage = errors.New("usage: create [name] | join CODE [name] | move N | restart")

// parseCommand turns one input line into a request. move and restart
// carry no room or player; the server uses the connection's seat.
func parseCommand(line string) (network.Request, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return network.Request{}, errUsage
	}

	switch fields[0] {
	case "create":
		return network.Request{Type: network.MsgTypeCreateRoom, Username: strings.Join(fields[1:], " ")}, nil
	case "join":
		if len(fields) < 2 {
			return network.Request{}, errUsage
		}
		return network.Request{
			Type:     network.MsgTypeJoinRoom,
			RoomCode: strings.ToUpper(fields[1]),
			Username: strings.Join(fields[2:], " "),
		}, nil
	case "move":
		if len(fields) != 2 {
			return network.Request{}, errUsage
		}
		position, err := strconv.Atoi(fields[1])
		if err != nil {
			return network.Request{}, fmt.Errorf("bad position %q: %w", fields[1], err)
		}
		return network.Request{Type: network.MsgTypeMove, Position: &position}, nil
	case "restart":
		return network.Request{Type: network.MsgTypeRestart}, nil
	default:
		return network.Request{}, errUsage
	}
}

func main() {
	addr := flag.String("addr", "localhost:8080", "server host:port")
	path := flag.String("path", "/ws", "websocket path")
	flag.Parse()

	logger.Init("info", true)
	defer logger.Sync()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	u := url.URL{Scheme: "ws", Host: *addr, Path: *path}
	logger.Log.Infof("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		logger.Log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// 读取服务端消息
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				logger.Log.Infof("Read error: %v", err)
				return
			}
			var head struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal(message, &head)
			fmt.Printf("<- %s %s\n", head.Type, message)
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Println(errUsage.Error()[len("usage: "):])
	for {
		select {
		case <-done:
			return
		case <-interrupt:
			logger.Log.Info("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				logger.Log.Infof("Write close error: %v", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			req, err := parseCommand(line)
			if err != nil {
				fmt.Println(err)
				continue
			}
			if err := c.WriteJSON(req); err != nil {
				logger.Log.Errorf("Write error: %v", err)
				return
			}
		}
	}
}
