package types

type contextKey string

// ClientAppKey ключ *client.App в контексте команды
const ClientAppKey contextKey = "app"
