package contestclient

import (
	"log"
	"time"

	"github.com/kshah22/codeclash/go/internal/gateway"
)

// queuedMessage is an outgoing request held while the connection is down.
type queuedMessage struct {
	Message  gateway.ClientMessage
	QueuedAt time.Time
}

// flushQueue replays held messages in FIFO order on a fresh connection.
// Entries older than QueueTTL are dropped instead; a stale leaderboard
// request answers a question nobody is asking anymore.
func (c *Client) flushQueue(conn Conn) {
	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	now := c.clock.Now()
	sent := 0
	for _, entry := range pending {
		if now.Sub(entry.QueuedAt) > c.config.QueueTTL {
			log.Printf("contestclient: dropping stale %s queued at %s", entry.Message.Type, entry.QueuedAt.Format(time.RFC3339))
			continue
		}
		if err := c.writeMessage(conn, entry.Message); err != nil {
			log.Printf("contestclient: flush stopped after %d messages: %v", sent, err)
			return
		}
		sent++
	}

	if sent > 0 {
		log.Printf("contestclient: flushed %d queued messages", sent)
	}
}

// queueLen reports how many messages wait for the next connection.
func (c *Client) queueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
