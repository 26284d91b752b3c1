package main

type Config struct {
	Host                 string `env:"HOST,default=localhost"`
	Port                 int    `env:"PORT,default=8080"`
	LogLevel             string `env:"LOG_LEVEL,default=info"`
	BadgerFilepath       string `env:"BADGER_FILEPATH,required=true"`
	ConnectionBufferSize int    `env:"CONNECTION_BUFFER_SIZE,default=64"`
	StorageBufferSize    int    `env:"STORAGE_BUFFER_SIZE,default=256"`
	HistoryLimit         int    `env:"HISTORY_LIMIT,default=50"`
}
