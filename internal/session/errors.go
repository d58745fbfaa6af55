package session

import "strings"

// closedMarkers 会话已分离时 CDP 返回的错误片段
var closedMarkers = []string{
	"target closed",
	"session closed",
	"not supported",
	"wasn't found",
}

// IsClosedError 判断错误是否源于已关闭或已分离的会话
func IsClosedError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range closedMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IgnoreClosed 吞掉会话分离导致的错误，其余错误原样返回
func IgnoreClosed(err error) error {
	if IsClosedError(err) {
		return nil
	}
	return err
}
