package handoff

import (
	"sync/atomic"
	"testing"
)

// BenchmarkReaderWriterLatency measures one writer/reader round trip.
func BenchmarkReaderWriterLatency(b *testing.B) {
	d := New[frame]()
	var started atomic.Bool

	done := make(chan struct{})
	go func() {
		defer close(done)
		started.Store(true)
		for {
			for !d.ReaderArrive() {
			}
			if d.ReaderBuffer().stop {
				return
			}
		}
	}()
	for !started.Load() {
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.WriterBuffer().seq = uint64(i)
		d.WriterArriveAndWait()
	}
	b.StopTimer()

	d.WriterBuffer().stop = true
	d.WriterArriveAndWait()
	<-done
}
