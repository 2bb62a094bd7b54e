package transport

import (
	"crypto/tls"
	"errors"
	"net"
	"reflect"

	"go.uber.org/zap"
)

// ErrorFields returns log fields describing TLS protocol failures: the
// numeric alert and the side that raised it
func ErrorFields(err error) []zap.Field {
	if code, side, ok := alert(err); ok {
		return []zap.Field{zap.Uint8("tlsAlert", code), zap.String("tlsAlertSide", side)}
	}
	var rhe tls.RecordHeaderError
	if errors.As(err, &rhe) {
		return []zap.Field{zap.Binary("tlsRecordHeader", rhe.RecordHeader[:])}
	}
	return nil
}

func alert(err error) (uint8, string, bool) {
	var ae tls.AlertError
	if errors.As(err, &ae) {
		return uint8(ae), "local", true
	}
	// crypto/tls reports alerts on TCP as *net.OpError carrying its
	// unexported uint8 alert type
	var oe *net.OpError
	if !errors.As(err, &oe) || oe.Err == nil {
		return 0, "", false
	}
	var side string
	switch oe.Op {
	case "local error":
		side = "local"
	case "remote error":
		side = "remote"
	default:
		return 0, "", false
	}
	if v := reflect.ValueOf(oe.Err); v.Kind() == reflect.Uint8 {
		return uint8(v.Uint()), side, true
	}
	return 0, "", false
}
