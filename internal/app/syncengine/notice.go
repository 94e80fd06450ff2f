package syncengine

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type NoticeKind string

const (
	NoticeError    NoticeKind = "error"
	NoticeInfo     NoticeKind = "info"
	NoticeConflict NoticeKind = "conflict"
)

// Notice is a user-facing message. Errors are dismissible; conflicts point at
// the comparison view.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	TaskID  string     `json:"taskId,omitempty"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

type Notifier interface {
	Notify(Notice)
}

type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type NopNotifier struct{}

func (NopNotifier) Notify(Notice) {}

// LogNotifier writes notices to the structured log.
type LogNotifier struct {
	Log logrus.FieldLogger
}

func (l LogNotifier) Notify(n Notice) {
	entry := l.Log.WithFields(logrus.Fields{"notice": n.Kind, "task_id": n.TaskID})
	if n.Kind == NoticeError {
		entry.Warn(n.Message)
		return
	}
	entry.Info(n.Message)
}

// Notifiers fans a notice out to each notifier in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(n Notice) {
	for _, notifier := range ns {
		notifier.Notify(n)
	}
}

const noticeLogLimit = 50

// NoticeLog keeps the most recent notices for display, newest first.
type NoticeLog struct {
	mu      sync.RWMutex
	notices []Notice
}

func NewNoticeLog() *NoticeLog {
	return &NoticeLog{}
}

func (l *NoticeLog) Notify(n Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append([]Notice{n}, l.notices...)
	if len(l.notices) > noticeLogLimit {
		l.notices = l.notices[:noticeLogLimit]
	}
}

func (l *NoticeLog) Recent() []Notice {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Notice, len(l.notices))
	copy(out, l.notices)
	return out
}

// Dismiss removes every notice.
func (l *NoticeLog) Dismiss() {
	l.mu.Lock()
	l.notices = nil
	l.mu.Unlock()
}
