package handler

import (
	"chatrelay/internal/app/chat"
	"chatrelay/internal/configs"
)

// AppDeps carries the long-lived objects the HTTP handlers need.
type AppDeps struct {
	Manager *chat.Manager
	Config  *configs.AppConfig
}
