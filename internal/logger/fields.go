package logger

import (
	"time"

	"go.uber.org/zap"
)

func RequestID(v string) zap.Field { return zap.String("request_id", v) }

func Method(v string) zap.Field { return zap.String("method", v) }

func Path(v string) zap.Field { return zap.String("path", v) }

func Status(v int) zap.Field { return zap.Int("status", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

func UserID(v string) zap.Field { return zap.String("user_id", v) }

func ClientID(v string) zap.Field { return zap.String("client_id", v) }

func FamilyID(v string) zap.Field { return zap.String("family_id", v) }

func GrantType(v string) zap.Field { return zap.String("grant_type", v) }

// SecurityEvent tags entries that record suspected credential misuse
func SecurityEvent(v string) zap.Field { return zap.String("security_event", v) }

func Op(v string) zap.Field { return zap.String("op", v) }

func Err(err error) zap.Field { return zap.Error(err) }
