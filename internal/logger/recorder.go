package logger

import "sync"

// Entry 记录的一条日志
type Entry struct {
	Level string
	Msg   string
	Err   error
	KV    []any
}

// Recorder 保存所有日志的内存日志器，测试中用于断言被吞掉的错误
type Recorder struct {
	mu      *sync.Mutex
	entries *[]Entry
	kv      []any
}

// NewRecorder 创建内存日志器
func NewRecorder() *Recorder {
	return &Recorder{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

func (r *Recorder) add(level string, err error, msg string, kv []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := append(append([]any(nil), r.kv...), kv...)
	*r.entries = append(*r.entries, Entry{Level: level, Msg: msg, Err: err, KV: all})
}

func (r *Recorder) Debug(msg string, kv ...any) { r.add("debug", nil, msg, kv) }
func (r *Recorder) Info(msg string, kv ...any)  { r.add("info", nil, msg, kv) }
func (r *Recorder) Warn(msg string, kv ...any)  { r.add("warn", nil, msg, kv) }
func (r *Recorder) Error(msg string, kv ...any) { r.add("error", nil, msg, kv) }

func (r *Recorder) Err(err error, msg string, kv ...any) { r.add("warn", err, msg, kv) }

// With 子日志器与父日志器共享记录
func (r *Recorder) With(kv ...any) Logger {
	return &Recorder{mu: r.mu, entries: r.entries, kv: append(append([]any(nil), r.kv...), kv...)}
}

// Entries 返回记录的拷贝
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), *r.entries...)
}

// Errors 返回通过 Err 记录的错误
func (r *Recorder) Errors() []error {
	var out []error
	for _, e := range r.Entries() {
		if e.Err != nil {
			out = append(out, e.Err)
		}
	}
	return out
}
