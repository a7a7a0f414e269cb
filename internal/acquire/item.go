package acquire

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/arc-language/goapt/internal/hashes"
)

// ItemState is an item's lifecycle position.
type ItemState int

const (
	StateIdle ItemState = iota
	StateFetching
	StateDone
	StateError
)

func (s ItemState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Item is one unit of download work: an ordered list of candidate URIs,
// the expected hashes and size, and a destination file. Items are created
// through the New*Item constructors and registered with Acquire.Add, which
// owns them; callers keep only the returned non-owning reference.
type Item struct {
	// Desc is the short human description progress lines use.
	Desc string
	// URIs are the candidate sources in preference order.
	URIs []string
	// DestFile is the final destination path.
	DestFile string
	// PartialFile, when non-empty, is downloaded into and atomically
	// renamed over DestFile on success.
	PartialFile string
	// Expected carries the hashes the payload must match. An item with no
	// expected hashes (e.g. a Release file fetched to discover them) skips
	// verification.
	Expected *hashes.HashStringList
	// ExpectedSize, when non-zero, is forwarded to the worker.
	ExpectedSize int64
	// IMSTime, when non-zero, makes the fetch conditional: the worker gets
	// it as Last-Modified and may answer IMS-Hit. Second granularity.
	IMSTime time.Time
	// Trusted marks items whose index came from a verified Release file.
	Trusted bool

	// OnDone runs after a verified download, with the final file in place.
	// A returned error fails the item despite the successful transfer.
	OnDone func(it *Item, msg *Message) error
	// OnFail runs when the item reaches StateError.
	OnFail func(it *Item, msg *Message)

	State     ItemState
	Retries   int
	ErrorText string

	uriIndex int
	owner    *Acquire
}

// CurrentURI returns the URI the item is currently trying.
func (it *Item) CurrentURI() string {
	if it.uriIndex >= len(it.URIs) {
		return ""
	}
	return it.URIs[it.uriIndex]
}

// nextURI advances to the next candidate, reporting whether one remains.
func (it *Item) nextURI() bool {
	it.uriIndex++
	return it.uriIndex < len(it.URIs)
}

// fetchFile is where the worker writes: the partial path when configured,
// otherwise the destination itself.
func (it *Item) fetchFile() string {
	if it.PartialFile != "" {
		return it.PartialFile
	}
	return it.DestFile
}

// custom600 assembles the URI Acquire message for the current URI.
func (it *Item) custom600() *Message {
	m := NewMessage(CodeURIAcquire, "URI Acquire")
	m.Set("URI", it.CurrentURI())
	m.Set("Filename", it.fetchFile())
	if !it.IMSTime.IsZero() {
		m.Set("Last-Modified", it.IMSTime.UTC().Format(time.RFC1123))
	}
	if it.ExpectedSize > 0 {
		m.Set("Expected-Size", fmt.Sprint(it.ExpectedSize))
	}
	if it.Expected != nil {
		for _, k := range hashes.AllKinds {
			if hex, ok := it.Expected.Find(k); ok {
				m.Set("Expected-"+k.String(), hex)
			}
		}
	}
	return m
}

// queueName computes which queue serves a URI: the host in per-host mode,
// the scheme in per-access mode. Hostless schemes (file, copy, gzip)
// always queue by scheme so local work never serializes behind a mirror.
func queueName(uri string, byHost bool) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	if byHost && u.Host != "" {
		return u.Scheme + ":" + u.Host
	}
	return u.Scheme
}

// methodName returns the fetch-method binary a URI needs.
func methodName(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return "file"
	}
	return u.Scheme
}

// finalizeIMSHit keeps the existing destination untouched and discards any
// partial the worker may have left behind.
func (it *Item) finalizeIMSHit() {
	if it.PartialFile != "" && it.PartialFile != it.DestFile {
		os.Remove(it.PartialFile)
	}
}

// moveIntoPlace renames the fetched file over the destination. from may
// already be the destination when the method wrote in place (file method
// reporting the source path is handled by the caller).
func (it *Item) moveIntoPlace(from string) error {
	if from == it.DestFile {
		return nil
	}
	return os.Rename(from, it.DestFile)
}
