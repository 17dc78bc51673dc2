package config

import (
	"encoding/json"
	"fmt"

	"golang.org/x/exp/slices"
)

// RedisCredentials are the connection details of a bound Redis service.
type RedisCredentials struct {
	Host     string
	Port     string
	Password string
}

type vcapService struct {
	Name        string         `json:"name"`
	Tags        []string       `json:"tags"`
	Credentials map[string]any `json:"credentials"`
}

// redisFromVCAP selects a Redis service from a Cloud Foundry VCAP_SERVICES
// document: the one named serviceName if given, else the first tagged
// "redis". Brokers disagree on "host" versus "hostname", so both are read.
func redisFromVCAP(doc, serviceName string) (RedisCredentials, error) {
	var services map[string][]vcapService
	if err := json.Unmarshal([]byte(doc), &services); err != nil {
		return RedisCredentials{}, fmt.Errorf("parse VCAP_SERVICES: %w", err)
	}

	found := findService(services, serviceName)
	if found == nil {
		if serviceName != "" {
			return RedisCredentials{}, fmt.Errorf("%w: service %q not bound", ErrNoRedis, serviceName)
		}
		return RedisCredentials{}, ErrNoRedis
	}

	creds := RedisCredentials{
		Host:     str(found.Credentials["host"]),
		Port:     str(found.Credentials["port"]),
		Password: str(found.Credentials["password"]),
	}
	if creds.Host == "" {
		creds.Host = str(found.Credentials["hostname"])
	}
	if creds.Host == "" {
		return RedisCredentials{}, fmt.Errorf("%w: service %q has no host", ErrNoRedis, found.Name)
	}
	if creds.Port == "" {
		creds.Port = "6379"
	}
	return creds, nil
}

func findService(services map[string][]vcapService, name string) *vcapService {
	// Map order is random; scan labels in a stable order so "first tagged"
	// means the same service on every instance.
	labels := make([]string, 0, len(services))
	for label := range services {
		labels = append(labels, label)
	}
	slices.Sort(labels)

	for _, label := range labels {
		for i := range services[label] {
			svc := &services[label][i]
			if name != "" {
				if svc.Name == name {
					return svc
				}
				continue
			}
			for _, tag := range svc.Tags {
				if tag == "redis" {
					return svc
				}
			}
		}
	}
	return nil
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%d", int64(t))
	default:
		return fmt.Sprint(t)
	}
}
