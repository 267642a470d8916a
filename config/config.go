package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"squarestorm/protocol"
)

var ErrInvalidConfig = errors.New("invalid config")

// EnvPrefix 环境变量前缀，例如 SQUARESTORM_PORT
const EnvPrefix = "SQUARESTORM_"

// Server 服务端配置
type Server struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	MaxPlayers      int    `yaml:"max_players"`
	TickRateHz      int    `yaml:"tick_rate_hz"`
	NameLengthLimit int    `yaml:"name_length_limit"`
	// HTTPAddr 非空时开启 /ws /metrics /info /healthz
	HTTPAddr string `yaml:"http_addr"`
	Codec    string `yaml:"codec"`
}

// Client 客户端配置
type Client struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	PlayerName        string        `yaml:"player_name"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	InterpolationRate float64       `yaml:"interpolation_rate"`
	FrameRateHint     float64       `yaml:"frame_rate_hint"`
	WebSocketURL      string        `yaml:"websocket_url"`
	Codec             string        `yaml:"codec"`
	EventBuffer       int           `yaml:"event_buffer"`
}

// Log 日志配置
type Log struct {
	File    string `yaml:"file"`
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// File 配置文件整体结构
type File struct {
	Server Server `yaml:"server"`
	Client Client `yaml:"client"`
	Log    Log    `yaml:"log"`
}

func DefaultServer() Server {
	return Server{
		Host:            "0.0.0.0",
		Port:            5555,
		MaxPlayers:      4,
		TickRateHz:      20,
		NameLengthLimit: 32,
		Codec:           "json",
	}
}

func DefaultClient() Client {
	return Client{
		Host:              "127.0.0.1",
		Port:              5555,
		PlayerName:        "Player",
		ConnectTimeout:    10 * time.Second,
		InterpolationRate: 0.3,
		Codec:             "json",
		EventBuffer:       256,
	}
}

func Default() File {
	return File{
		Server: DefaultServer(),
		Client: DefaultClient(),
		Log:    Log{File: "squarestorm.log", Level: "info", Console: true},
	}
}

// Load 读取 YAML 配置文件，未出现的字段保持默认值；文件不存在时直接返回默认配置
func Load(path string) (File, error) {
	f := Default()
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return f, err
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

// ApplyEnv 先加载可选的 .env 文件，再用 SQUARESTORM_* 环境变量覆盖
func (f *File) ApplyEnv(envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load env: %w", err)
	}

	var errs []string
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = n
		}
	}
	setFloat := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = n
		}
	}

	setString("HOST", &f.Server.Host)
	setInt("PORT", &f.Server.Port)
	setInt("MAX_PLAYERS", &f.Server.MaxPlayers)
	setInt("TICK_RATE_HZ", &f.Server.TickRateHz)
	setInt("NAME_LENGTH_LIMIT", &f.Server.NameLengthLimit)
	setString("HTTP_ADDR", &f.Server.HTTPAddr)
	setString("CODEC", &f.Server.Codec)
	setString("CODEC", &f.Client.Codec)

	setString("SERVER_HOST", &f.Client.Host)
	setInt("SERVER_PORT", &f.Client.Port)
	setString("PLAYER_NAME", &f.Client.PlayerName)
	setFloat("INTERPOLATION_RATE", &f.Client.InterpolationRate)
	setString("WEBSOCKET_URL", &f.Client.WebSocketURL)
	if v, ok := os.LookupEnv(EnvPrefix + "CONNECT_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, "CONNECT_TIMEOUT")
		} else {
			f.Client.ConnectTimeout = d
		}
	}

	setString("LOG_FILE", &f.Log.File)
	setString("LOG_LEVEL", &f.Log.Level)

	if len(errs) > 0 {
		return fmt.Errorf("%w: bad environment values for %s", ErrInvalidConfig, strings.Join(errs, ", "))
	}
	return nil
}

// Validate 校验服务端配置取值范围
func (s Server) Validate() error {
	if s.MaxPlayers < 2 || s.MaxPlayers > 8 {
		return fmt.Errorf("%w: max_players %d out of range 2..8", ErrInvalidConfig, s.MaxPlayers)
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidConfig, s.Port)
	}
	if s.TickRateHz <= 0 {
		return fmt.Errorf("%w: tick_rate_hz must be > 0", ErrInvalidConfig)
	}
	if s.NameLengthLimit <= 0 {
		return fmt.Errorf("%w: name_length_limit must be > 0", ErrInvalidConfig)
	}
	if _, err := protocol.CodecByName(s.Codec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Validate 校验客户端配置
func (c Client) Validate() error {
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect_timeout must be > 0", ErrInvalidConfig)
	}
	if c.InterpolationRate <= 0 || c.InterpolationRate > 1 {
		return fmt.Errorf("%w: interpolation_rate %.2f out of range (0,1]", ErrInvalidConfig, c.InterpolationRate)
	}
	if c.FrameRateHint < 0 {
		return fmt.Errorf("%w: frame_rate_hint must be >= 0", ErrInvalidConfig)
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("%w: event_buffer must be > 0", ErrInvalidConfig)
	}
	if _, err := protocol.CodecByName(c.Codec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Addr host:port
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
