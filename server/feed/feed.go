// Package feed pushes detection results to a browser over a websocket
package feed

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/lookout/pkg/nn"
	"github.com/cyclopcam/lookout/server/monitor"
	"github.com/gorilla/websocket"
)

type webSocketMsg int

const (
	webSocketMsgPause  webSocketMsg = iota // pause feed (eg browser tab deactivated)
	webSocketMsgResume                     // resume feed (eg browser tab reactivated)
)

// Sent by client over websocket
// SYNC-FEED-COMMAND-JSON
type webSocketJSON struct {
	Command string `json:"command"`
}

// Sent to the client as a TEXT frame
// SYNC-FEED-DETECTIONS-JSON
type detectionsMessage struct {
	Type       string         `json:"type"` // Always "detections"
	Detections []nn.Detection `json:"detections"`
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	Time       int64          `json:"time"` // Unix milliseconds of the frame
}

// Number of results that we will buffer on the send side, before dropping results
const SendBufferSize = 20

var nextFeedID int64

// Feed relays monitor results to a single websocket client
type Feed struct {
	log         logs.Log
	id          int64
	paused      atomic.Bool
	closed      atomic.Bool
	fromClient  chan webSocketMsg
	done        chan struct{} // Closed when the relay loop exits
	sendQueue   chan *nn.DetectionResult
	results     chan *nn.DetectionResult
	nDropped    int64
	nSent       int64
	lastDropMsg time.Time
}

// Run relays results until the client disconnects, or 'shutdown' is closed.
// The most recent result is sent immediately, so that a new client doesn't start with a blank list.
func Run(logger logs.Log, conn *websocket.Conn, mon *monitor.Monitor, shutdown <-chan struct{}) {
	f := &Feed{
		log:        logger,
		id:         atomic.AddInt64(&nextFeedID, 1),
		fromClient: make(chan webSocketMsg, 1),
		done:       make(chan struct{}),
		sendQueue:  make(chan *nn.DetectionResult, SendBufferSize),
		results:    mon.AddWatcher(),
	}
	defer mon.RemoveWatcher(f.results)
	f.enqueue(mon.Current())
	f.run(conn, shutdown)
}

func (f *Feed) run(conn *websocket.Conn, shutdown <-chan struct{}) {
	defer conn.Close()

	go f.webSocketReader(conn)
	writerDone := make(chan struct{})
	go func() {
		f.webSocketWriter(conn)
		close(writerDone)
	}()

	f.log.Infof("Feed %v connected", f.id)
	for !f.closed.Load() {
		select {
		case <-shutdown:
			f.closed.Store(true)
		case msg, ok := <-f.fromClient:
			if !ok {
				f.closed.Store(true)
				break
			}
			switch msg {
			case webSocketMsgPause:
				f.paused.Store(true)
			case webSocketMsgResume:
				f.paused.Store(false)
			}
		case result := <-f.results:
			if !f.paused.Load() {
				f.enqueue(result)
			}
		}
	}
	close(f.done)
	close(f.sendQueue)
	<-writerDone
	f.log.Infof("Feed %v closed. Sent %v, dropped %v", f.id, f.nSent, f.nDropped)
}

// We never block here, because that would hold up the monitor's watcher channel
func (f *Feed) enqueue(result *nn.DetectionResult) {
	if len(f.sendQueue) >= SendBufferSize {
		f.nDropped++
		if now := time.Now(); now.Sub(f.lastDropMsg) > 5*time.Second {
			f.log.Infof("Feed %v dropped %v/%v results", f.id, f.nDropped, f.nDropped+f.nSent)
			f.lastDropMsg = now
		}
		return
	}
	f.nSent++
	f.sendQueue <- result
}

// Read from the websocket and post to our own channel, so that we can
// run a single loop that handles client commands and detection results.
func (f *Feed) webSocketReader(conn *websocket.Conn) {
	defer close(f.fromClient)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg := webSocketJSON{}
		if err := json.Unmarshal(data, &msg); err != nil {
			f.log.Infof("Feed %v failed to decode JSON: %v", f.id, err)
			continue
		}
		// SYNC-FEED-COMMANDS
		var cmd webSocketMsg
		switch msg.Command {
		case "pause":
			cmd = webSocketMsgPause
		case "resume":
			cmd = webSocketMsgResume
		default:
			f.log.Infof("Unknown feed command from client: '%v'", msg.Command)
			continue
		}
		select {
		case f.fromClient <- cmd:
		case <-f.done:
			return
		}
	}
}

// Writes run on their own goroutine so that a slow client can't block the relay loop
func (f *Feed) webSocketWriter(conn *websocket.Conn) {
	for result := range f.sendQueue {
		if f.closed.Load() || f.paused.Load() {
			continue
		}
		out := detectionsMessage{
			Type:       "detections",
			Detections: result.Objects,
			Width:      result.ImageWidth,
			Height:     result.ImageHeight,
		}
		if out.Detections == nil {
			out.Detections = []nn.Detection{}
		}
		if !result.FrameTime.IsZero() {
			out.Time = result.FrameTime.UnixMilli()
		}
		j, err := json.Marshal(&out)
		if err != nil {
			f.log.Errorf("Failed to marshal feed message: %v", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, j); err != nil {
			f.log.Infof("Error writing to feed %v: %v", f.id, err)
		}
	}
}
