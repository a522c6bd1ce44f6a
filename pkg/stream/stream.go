// Package stream serves annotated frames as an MJPEG stream
// (multipart/x-mixed-replace). Only the latest encoded frame is kept;
// slow clients skip frames instead of queueing them.
package stream

import (
	"bytes"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/MrCodeEU/rollcall/pkg/logging"
)

// Boundary separates frames in the multipart response.
const Boundary = "frame"

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 80

// Broadcaster fans encoded frames out to HTTP clients.
type Broadcaster struct {
	quality int

	mu     sync.Mutex
	latest []byte
	seq    uint64
	subs   map[chan []byte]struct{}
}

// NewBroadcaster returns a broadcaster encoding at quality (1-100).
func NewBroadcaster(quality int) *Broadcaster {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &Broadcaster{
		quality: quality,
		subs:    make(map[chan []byte]struct{}),
	}
}

// Publish encodes img as JPEG and hands it to every subscriber.
func (b *Broadcaster) Publish(img image.Image) error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(b.quality)); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	data := buf.Bytes()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = data
	b.seq++
	for ch := range b.subs {
		// replace an unread frame rather than block the capture loop
		select {
		case <-ch:
		default:
		}
		ch <- data
	}
	return nil
}

// Latest returns the most recent JPEG and its sequence number.
func (b *Broadcaster) Latest() ([]byte, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.seq
}

// Subscribe registers a client. The returned function unregisters it.
func (b *Broadcaster) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	if b.latest != nil {
		ch <- b.latest
	}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
}

// Clients returns the number of connected subscribers.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// ServeHTTP streams frames until the client goes away.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(Boundary); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	frames, cancel := b.Subscribe()
	defer cancel()

	log := logging.Component("stream")
	log.Debugf("Client %s connected", r.RemoteAddr)
	defer log.Debugf("Client %s disconnected", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			return
		case jpg := <-frames:
			part, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type":   {"image/jpeg"},
				"Content-Length": {strconv.Itoa(len(jpg))},
			})
			if err != nil {
				return
			}
			if _, err := part.Write(jpg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
