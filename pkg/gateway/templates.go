package gateway

import (
	"bytes"
	"fmt"
	"text/template"
)

// defaultGatewayPort is the local port the gateway's own HTTP endpoints
// (auth callbacks, entrypoint targets) listen on.
const defaultGatewayPort = 8000

// serviceTemplate renders the proxy config for a run service: an upstream
// block with one server per replica and a TLS server that proxies to it.
// Replica-less upstreams get a single marked-down placeholder because the
// proxy rejects empty upstream blocks.
var serviceTemplate = template.Must(template.New("service").Parse(`upstream {{ .UpstreamName }} {
{{- range .Servers }}
    server {{ .Address }};
{{- end }}
{{- if not .Servers }}
    server 127.0.0.1:9 down;
{{- end }}
}

server {
    listen 80;
    server_name {{ .Domain }};
    return 301 https://$host$request_uri;
}

server {
    listen 443 ssl;
    server_name {{ .Domain }};

    ssl_certificate /etc/letsencrypt/live/{{ .Domain }}/fullchain.pem;
    ssl_certificate_key /etc/letsencrypt/live/{{ .Domain }}/privkey.pem;

    client_max_body_size 64M;
{{- if .Auth }}

    location = /auth {
        internal;
        proxy_pass http://127.0.0.1:{{ .GatewayPort }}/api/auth/{{ .Project }}/{{ .ServiceID }};
        proxy_pass_request_body off;
        proxy_set_header Content-Length "";
        proxy_set_header X-Original-URI $request_uri;
    }
{{- end }}

    location / {
{{- if .Auth }}
        auth_request /auth;
{{- end }}
        proxy_pass http://{{ .UpstreamName }};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_http_version 1.1;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection "upgrade";
        proxy_read_timeout 300s;
    }
}
`))

// entrypointTemplate renders the proxy config for a path-prefix entrypoint,
// e.g. the gateway's own API exposed on a dedicated domain.
var entrypointTemplate = template.Must(template.New("entrypoint").Parse(`server {
    listen 80;
    server_name {{ .Domain }};
    return 301 https://$host$request_uri;
}

server {
    listen 443 ssl;
    server_name {{ .Domain }};

    ssl_certificate /etc/letsencrypt/live/{{ .Domain }}/fullchain.pem;
    ssl_certificate_key /etc/letsencrypt/live/{{ .Domain }}/privkey.pem;

    location / {
        proxy_pass http://127.0.0.1:{{ .Port }}{{ .Prefix }}/;
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
    }
}
`))

func renderSite(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render site config: %w", err)
	}
	return buf.String(), nil
}
