package foxglove

const TelemetrySchema = `{
  "type": "object",
  "properties": {
    "timestamp": {
      "type": "object",
      "properties": { "sec": { "type": "integer" }, "nsec": { "type": "integer" } }
    },
    "pitch": { "type": "integer" },
    "roll": { "type": "integer" },
    "yaw": { "type": "integer" },
    "vgx": { "type": "integer" },
    "vgy": { "type": "integer" },
    "vgz": { "type": "integer" },
    "templ": { "type": "integer" },
    "temph": { "type": "integer" },
    "tof": { "type": "integer" },
    "h": { "type": "integer" },
    "bat": { "type": "integer" },
    "baro": { "type": "number" },
    "time": { "type": "integer" },
    "agx": { "type": "number" },
    "agy": { "type": "number" },
    "agz": { "type": "number" }
  }
}`

const LogSchema = `{
  "type": "object",
  "properties": {
    "timestamp": {
      "type": "object",
      "properties": { "sec": { "type": "integer" }, "nsec": { "type": "integer" } }
    },
    "level": { "type": "integer" },
    "message": { "type": "string" },
    "name": { "type": "string" },
    "file": { "type": "string" },
    "line": { "type": "integer" }
  }
}`

const CommandSchema = `{
  "type": "object",
  "properties": {
    "timestamp": {
      "type": "object",
      "properties": { "sec": { "type": "integer" }, "nsec": { "type": "integer" } }
    },
    "text": { "type": "string" },
    "control": {
      "type": "object",
      "properties": {
        "lr": { "type": "integer" },
        "fb": { "type": "integer" },
        "ud": { "type": "integer" },
        "yaw": { "type": "integer" }
      }
    }
  },
  "required": ["text"]
}`

// ChannelConfig describes one advertised topic.
type ChannelConfig struct {
	ID             uint64
	Topic          string
	Encoding       string
	SchemaName     string
	SchemaEncoding string
	Schema         string
}

type Config struct {
	WSAddr    string
	Name      string
	LogName   string
	SendBuf   int
	Telemetry ChannelConfig
	Ack       ChannelConfig
	Command   ChannelConfig
}

func DefaultConfig() Config {
	return Config{
		WSAddr:  "127.0.0.1:8765",
		Name:    "tellolink",
		LogName: "tellolink",
		SendBuf: 256,
		Telemetry: ChannelConfig{
			ID:             1,
			Topic:          "/tellolink/telemetry",
			Encoding:       "json",
			SchemaName:     "tellolink.Telemetry",
			SchemaEncoding: "jsonschema",
			Schema:         TelemetrySchema,
		},
		Ack: ChannelConfig{
			ID:             2,
			Topic:          "/tellolink/ack",
			Encoding:       "json",
			SchemaName:     "foxglove.Log",
			SchemaEncoding: "jsonschema",
			Schema:         LogSchema,
		},
		Command: ChannelConfig{
			ID:             3,
			Topic:          "/tellolink/command",
			Encoding:       "json",
			SchemaName:     "tellolink.Command",
			SchemaEncoding: "jsonschema",
			Schema:         CommandSchema,
		},
	}
}

// withDefaults fills empty fields and separates colliding channel ids.
func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.WSAddr == "" {
		cfg.WSAddr = def.WSAddr
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.LogName == "" {
		cfg.LogName = def.LogName
	}
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = def.SendBuf
	}
	cfg.Telemetry = cfg.Telemetry.withDefaults(def.Telemetry)
	cfg.Ack = cfg.Ack.withDefaults(def.Ack)
	cfg.Command = cfg.Command.withDefaults(def.Command)

	if cfg.Ack.ID == cfg.Telemetry.ID {
		cfg.Ack.ID = cfg.Telemetry.ID + 1
	}
	if cfg.Command.ID == cfg.Telemetry.ID || cfg.Command.ID == cfg.Ack.ID {
		cfg.Command.ID = max(cfg.Telemetry.ID, cfg.Ack.ID) + 1
	}
	return cfg
}

func (c ChannelConfig) withDefaults(def ChannelConfig) ChannelConfig {
	if c.ID == 0 {
		c.ID = def.ID
	}
	if c.Topic == "" {
		c.Topic = def.Topic
	}
	if c.Encoding == "" {
		c.Encoding = def.Encoding
	}
	if c.SchemaName == "" {
		c.SchemaName = def.SchemaName
	}
	if c.SchemaEncoding == "" {
		c.SchemaEncoding = def.SchemaEncoding
	}
	if c.Schema == "" {
		c.Schema = def.Schema
	}
	return c
}
