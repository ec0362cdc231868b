package model

// Direction is the payload direction of a speed test.
type Direction string

const (
	Download Direction = "download"
	Upload   Direction = "upload"
)

// Valid reports whether d is one of the two payload directions.
func (d Direction) Valid() bool {
	return d == Download || d == Upload
}

// URLClass tags a classified request URL.
type URLClass string

const (
	ClassDownload      URLClass = "download"
	ClassUpload        URLClass = "upload"
	ClassIdleLatency   URLClass = "idle_latency"
	ClassLoadedLatency URLClass = "loaded_latency"
)

// LatencyPhase records where a loaded-latency probe sits relative to the
// payload window.
type LatencyPhase string

const (
	PhaseBefore  LatencyPhase = "before"
	PhaseDuring  LatencyPhase = "during"
	PhaseAfter   LatencyPhase = "after"
	PhaseUnknown LatencyPhase = "unbounded"
)

// ClassifiedURL is a request URL with the source it was first seen on.
type ClassifiedURL struct {
	URL       string
	SourceID  SourceID
	HasSource bool
	Class     URLClass
	Phase     LatencyPhase // latency classes only
}

// URLSet is the classifier's output: unique URLs per class in first-seen order.
type URLSet struct {
	Download      []ClassifiedURL
	Upload        []ClassifiedURL
	IdleLatency   []ClassifiedURL
	LoadedLatency []ClassifiedURL
}

// Payload returns the payload URLs for a direction.
func (s URLSet) Payload(d Direction) []ClassifiedURL {
	if d == Upload {
		return s.Upload
	}
	return s.Download
}

// URLList is the on-disk shape of download_urls.json / upload_urls.json.
// Load and Unload mirror LoadedLatency and IdleLatency for older consumers.
type URLList struct {
	Download      []string `json:"download"`
	Upload        []string `json:"upload"`
	Load          []string `json:"load"`
	Unload        []string `json:"unload"`
	IdleLatency   []string `json:"idle_latency"`
	LoadedLatency []string `json:"loaded_latency"`
}

// ToList flattens the set into its file shape. Every key is present and
// empty classes encode as [].
func (s URLSet) ToList() URLList {
	idle := urlStrings(s.IdleLatency)
	loaded := urlStrings(s.LoadedLatency)
	return URLList{
		Download:      urlStrings(s.Download),
		Upload:        urlStrings(s.Upload),
		Load:          append([]string{}, loaded...),
		Unload:        append([]string{}, idle...),
		IdleLatency:   idle,
		LoadedLatency: loaded,
	}
}

// Idle returns the idle-latency URLs, falling back to the legacy "unload" key.
func (l URLList) Idle() []string {
	if len(l.IdleLatency) > 0 {
		return l.IdleLatency
	}
	return l.Unload
}

// Loaded returns the loaded-latency URLs, falling back to the legacy "load" key.
func (l URLList) Loaded() []string {
	if len(l.LoadedLatency) > 0 {
		return l.LoadedLatency
	}
	return l.Load
}

// Payload returns the payload URLs for a direction.
func (l URLList) Payload(d Direction) []string {
	if d == Upload {
		return l.Upload
	}
	return l.Download
}

func urlStrings(urls []ClassifiedURL) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		out = append(out, u.URL)
	}
	return out
}

// ListFor returns the URL list a single direction of the capture is analyzed
// against. In a combined capture a loaded probe that falls inside the other
// direction's payload window, and not inside d's, belongs to the other
// direction and is left out. Unbounded probes and probes outside every
// window are kept.
func (s URLSet) ListFor(d Direction) URLList {
	other := Upload
	if d == Upload {
		other = Download
	}
	own, hasOwn := sourceWindow(s.Payload(d))
	theirs, hasTheirs := sourceWindow(s.Payload(other))

	loaded := make([]ClassifiedURL, 0, len(s.LoadedLatency))
	for _, u := range s.LoadedLatency {
		if u.Phase != PhaseUnknown && hasTheirs && theirs.contains(u.SourceID) &&
			!(hasOwn && own.contains(u.SourceID)) {
			continue
		}
		loaded = append(loaded, u)
	}
	return URLSet{
		Download:      s.Download,
		Upload:        s.Upload,
		IdleLatency:   s.IdleLatency,
		LoadedLatency: loaded,
	}.ToList()
}

type idWindow struct{ first, last SourceID }

func (w idWindow) contains(id SourceID) bool { return id >= w.first && id <= w.last }

func sourceWindow(urls []ClassifiedURL) (w idWindow, ok bool) {
	for _, u := range urls {
		if !u.HasSource {
			continue
		}
		if !ok || u.SourceID < w.first {
			w.first = u.SourceID
		}
		if !ok || u.SourceID > w.last {
			w.last = u.SourceID
		}
		ok = true
	}
	return w, ok
}
