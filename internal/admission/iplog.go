package admission

import (
	"path"
	"time"
)

// LogEntry records one admitted connection.
type LogEntry struct {
	IP   string
	Name string
	At   time.Time
}

// IPLog is a bounded FIFO of admitted connections. When full, the oldest
// entry is evicted on insert.
type IPLog struct {
	entries []LogEntry
	head    int
	size    int
}

// NewIPLog creates a log holding at most capacity entries. A non-positive
// capacity keeps nothing.
func NewIPLog(capacity int) *IPLog {
	if capacity < 0 {
		capacity = 0
	}
	return &IPLog{entries: make([]LogEntry, capacity)}
}

// Cap returns the maximum number of entries.
func (l *IPLog) Cap() int {
	return len(l.entries)
}

// Len returns the current number of entries.
func (l *IPLog) Len() int {
	return l.size
}

// Append inserts an entry, evicting the oldest one if the log is full.
func (l *IPLog) Append(e LogEntry) {
	if len(l.entries) == 0 {
		return
	}
	if l.size < len(l.entries) {
		l.entries[(l.head+l.size)%len(l.entries)] = e
		l.size++
		return
	}
	l.entries[l.head] = e
	l.head = (l.head + 1) % len(l.entries)
}

// Attach names the most recent unnamed entry for ip.
func (l *IPLog) Attach(ip, name string) bool {
	for i := l.size - 1; i >= 0; i-- {
		e := &l.entries[(l.head+i)%len(l.entries)]
		if e.IP == ip && e.Name == "" {
			e.Name = name
			return true
		}
	}
	return false
}

// Entries returns the log oldest-first.
func (l *IPLog) Entries() []LogEntry {
	out := make([]LogEntry, 0, l.size)
	for i := 0; i < l.size; i++ {
		out = append(out, l.entries[(l.head+i)%len(l.entries)])
	}
	return out
}

// Search returns entries whose IP or name matches the glob pattern.
func (l *IPLog) Search(pattern string) []LogEntry {
	var out []LogEntry
	for _, e := range l.Entries() {
		if globMatch(pattern, e.IP) || (e.Name != "" && globMatch(pattern, e.Name)) {
			out = append(out, e)
		}
	}
	return out
}

// Resize changes the capacity, keeping the most recent entries.
func (l *IPLog) Resize(capacity int) {
	if capacity == len(l.entries) {
		return
	}
	entries := l.Entries()
	next := NewIPLog(capacity)
	for _, e := range entries {
		next.Append(e)
	}
	*l = *next
}

func globMatch(pattern, s string) bool {
	ok, err := path.Match(pattern, s)
	return err == nil && ok
}
