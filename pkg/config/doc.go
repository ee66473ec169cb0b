/*
Package config loads the server configuration.

Configuration is a YAML file merged over DefaultConfig; a file names only
the settings it changes. Durations accept an integer number of seconds or
a string like "30s", "10m", "2h", "1d".

	data_dir: /var/lib/windrose
	log:
	  level: debug
	backends:
	  - type: aws
	    settings:
	      region: us-east-1
	gateway:
	  enabled: true
	  domain: apps.example.com
	  cert_issuer: certbot

Backend settings maps are passed verbatim to the factory registered for
the backend type; the core does not interpret provider credentials.
*/
package config
