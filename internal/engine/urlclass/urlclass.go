// Package urlclass sorts the request URLs of a capture into payload and
// latency-probe classes.
package urlclass

import (
	"strings"

	"github.com/crimson-sun/speedtrace/internal/model"
)

// Patterns holds the substrings that identify each kind of request.
type Patterns struct {
	Download string
	Upload   string
	Hello    string
	// Hosts optionally restricts matching to URLs containing one of these
	// host prefixes. Empty means any host.
	Hosts []string
}

// DefaultPatterns returns the fragments used by the speed-test client.
func DefaultPatterns() Patterns {
	return Patterns{
		Download: "/download?nocache=",
		Upload:   "/upload?nocache=",
		Hello:    "/hello?nocache=",
	}
}

// Classifier classifies request URLs.
type Classifier struct {
	patterns Patterns
}

// New returns a Classifier for p.
func New(p Patterns) *Classifier {
	return &Classifier{patterns: p}
}

// Kind returns the class a URL belongs to by fragment alone, and false when
// it is not a speed-test URL. Hello URLs report ClassIdleLatency; their final
// class depends on where they sit relative to the payload window.
func (c *Classifier) Kind(rawURL string) (model.URLClass, bool) {
	if !c.hostAllowed(rawURL) {
		return "", false
	}
	switch {
	case c.patterns.Download != "" && strings.Contains(rawURL, c.patterns.Download):
		return model.ClassDownload, true
	case c.patterns.Upload != "" && strings.Contains(rawURL, c.patterns.Upload):
		return model.ClassUpload, true
	case c.patterns.Hello != "" && strings.Contains(rawURL, c.patterns.Hello):
		return model.ClassIdleLatency, true
	}
	return "", false
}

func (c *Classifier) hostAllowed(rawURL string) bool {
	if len(c.patterns.Hosts) == 0 {
		return true
	}
	for _, h := range c.patterns.Hosts {
		if strings.Contains(rawURL, h) {
			return true
		}
	}
	return false
}

type seenList struct {
	urls  []model.ClassifiedURL
	index map[string]struct{}
}

func (l *seenList) add(u model.ClassifiedURL) {
	if l.index == nil {
		l.index = make(map[string]struct{})
	}
	if _, dup := l.index[u.URL]; dup {
		return
	}
	l.index[u.URL] = struct{}{}
	l.urls = append(l.urls, u)
}

// Classify walks events in order and returns the unique URLs per class in
// first-seen order. A hello probe whose source id precedes every payload
// source is idle; one inside or after the payload window is loaded. Without
// any payload URL every probe is idle, and a probe that cannot be placed
// (no source id, or payload URLs without ids) is loaded.
func (c *Classifier) Classify(events []model.Event) model.URLSet {
	var download, upload, hello seenList
	for _, ev := range events {
		u := ev.Params.URL
		if u == "" {
			continue
		}
		kind, ok := c.Kind(u)
		if !ok {
			continue
		}
		cu := model.ClassifiedURL{URL: u, SourceID: ev.Source.ID, HasSource: ev.HasSource, Class: kind}
		switch kind {
		case model.ClassDownload:
			download.add(cu)
		case model.ClassUpload:
			upload.add(cu)
		default:
			hello.add(cu)
		}
	}

	set := model.URLSet{
		Download:      orEmpty(download.urls),
		Upload:        orEmpty(upload.urls),
		IdleLatency:   []model.ClassifiedURL{},
		LoadedLatency: []model.ClassifiedURL{},
	}

	payloadCount := len(download.urls) + len(upload.urls)
	first, last, bounded := payloadWindow(download.urls, upload.urls)

	for _, h := range hello.urls {
		switch {
		case payloadCount == 0:
			h.Class, h.Phase = model.ClassIdleLatency, model.PhaseBefore
		case !bounded || !h.HasSource:
			h.Class, h.Phase = model.ClassLoadedLatency, model.PhaseUnknown
		case h.SourceID < first:
			h.Class, h.Phase = model.ClassIdleLatency, model.PhaseBefore
		case h.SourceID > last:
			h.Class, h.Phase = model.ClassLoadedLatency, model.PhaseAfter
		default:
			h.Class, h.Phase = model.ClassLoadedLatency, model.PhaseDuring
		}
		if h.Class == model.ClassIdleLatency {
			set.IdleLatency = append(set.IdleLatency, h)
		} else {
			set.LoadedLatency = append(set.LoadedLatency, h)
		}
	}
	return set
}

// payloadWindow returns the lowest and highest payload source ids across
// both directions. Ids grow with creation order, so these bound the window
// the payload requests were opened in.
func payloadWindow(lists ...[]model.ClassifiedURL) (first, last model.SourceID, ok bool) {
	for _, list := range lists {
		for _, u := range list {
			if !u.HasSource {
				continue
			}
			if !ok || u.SourceID < first {
				first = u.SourceID
			}
			if !ok || u.SourceID > last {
				last = u.SourceID
			}
			ok = true
		}
	}
	return first, last, ok
}

func orEmpty(urls []model.ClassifiedURL) []model.ClassifiedURL {
	if urls == nil {
		return []model.ClassifiedURL{}
	}
	return urls
}
