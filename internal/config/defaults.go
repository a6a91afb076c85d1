package config

// DefaultConfigYAML is written by `promptflow init`. Values not listed
// use the loader defaults.
const DefaultConfigYAML = `# promptflow configuration
#
# Every key can be overridden with a PROMPTFLOW_ environment variable,
# e.g. PROMPTFLOW_SERVER_PORT=9090.

log:
  level: info
  format: auto

server:
  host: localhost
  port: 8080
  allowed_origins: ["*"]

generator:
  # openai or echo (echo returns the request text, useful for dry runs)
  provider: openai
  model: gpt-4o-mini
  # api_key is read from OPENAI_API_KEY when empty
  api_key: ""
  system_prompt: You are a helpful assistant.
  max_tokens: 1000
  timeout: 2m
  max_retries: 3

executor:
  step_timeout: 3m
  stop_on_error: false

store:
  # sqlite, json, redis or postgres
  backend: sqlite
  path: .promptflow/workflows.db

files:
  dir: .promptflow/uploads
  max_size_mb: 50

chat:
  path: .promptflow/chat.db
`
