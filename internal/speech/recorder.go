package speech

import "sync"

// Recorder is a Speaker that remembers every utterance.
type Recorder struct {
	mu     sync.Mutex
	spoken []string
}

func (r *Recorder) Speak(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spoken = append(r.spoken, text)
}

func (r *Recorder) Spoken() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.spoken))
	copy(out, r.spoken)
	return out
}
