package syncengine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoticeLog_NewestFirstAndBounded(t *testing.T) {
	l := NewNoticeLog()
	for i := 0; i < noticeLogLimit+5; i++ {
		l.Notify(Notice{Kind: NoticeInfo, Message: fmt.Sprintf("n%d", i)})
	}
	recent := l.Recent()
	assert.Len(t, recent, noticeLogLimit)
	assert.Equal(t, fmt.Sprintf("n%d", noticeLogLimit+4), recent[0].Message)

	l.Dismiss()
	assert.Empty(t, l.Recent())
}

func TestNotifiers_FanOut(t *testing.T) {
	var got []string
	ns := Notifiers{
		NotifierFunc(func(n Notice) { got = append(got, "a:"+n.Message) }),
		NotifierFunc(func(n Notice) { got = append(got, "b:"+n.Message) }),
	}
	ns.Notify(Notice{Message: "hi"})
	assert.Equal(t, []string{"a:hi", "b:hi"}, got)
}
