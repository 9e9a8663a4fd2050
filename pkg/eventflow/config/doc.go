/*
Package config holds eventflow configuration.

Settings is the typed top-level configuration: which processors are
enabled and in what order, dispatcher and worker sizing, task paging,
and which storage and lock backends to use.

	settings, err := config.LoadSettings("eventflow.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	processors:
	  audit:
	    order: 100
	  password-policy:
	    enabled: false
	  notify:
	    properties:
	      channel: ops
	dispatcher:
	  workers: 8
	  poll_interval: 2s
	storage:
	  driver: sqlite
	  dsn: ./eventflow.db

Config wraps the free-form property map handed to each processor. Its
accessors return the supplied default when a key is missing or holds a
value of the wrong type:

	cfg := settings.ProcessorProperties("notify")
	channel := cfg.String("channel", "default")
	timeout := cfg.Duration("timeout", 10*time.Second)

Decode maps the properties onto a struct with yaml tags instead.
*/
package config
