// Package speedtrace re-derives speed-test measurements from a browser
// network-log capture: per-stream transfer series, idle and loaded latency,
// the HTTP stream to socket chain, and an aggregate throughput timeline.
//
// Quick start:
//
//	a := speedtrace.New()
//	c, err := a.Load("netlog.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	r, err := a.Analyze(c, a.Classify(c), speedtrace.Download)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(r.Summary.Throughput.Mean, r.Summary.LoadedLatency.Median)
//
// An Analyzer holds no per-capture state and is safe for concurrent use.
package speedtrace
