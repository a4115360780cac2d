package store

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/api/schemas"
)

// ParseAccountLine parses one "login:password" import line. The login
// doubles as the account id so re-imports stay idempotent.
func ParseAccountLine(line string) (schemas.Account, error) {
	login, secret, found := strings.Cut(strings.TrimSpace(line), ":")
	if !found || login == "" || secret == "" {
		return schemas.Account{}, fmt.Errorf("malformed account line %q, want login:password", line)
	}
	return schemas.Account{
		ID:       login,
		AuthType: schemas.AuthCredentials,
		Login:    login,
		Secret:   secret,
		Status:   schemas.AccountUnverified,
	}, nil
}

// ParseProxyLine parses one proxy import line. Accepted forms:
//
//	host:port
//	host:port:user:pass
//	user:pass@host:port
//
// each optionally prefixed with "scheme://". The id is host:port.
func ParseProxyLine(line string) (schemas.Proxy, error) {
	raw := strings.TrimSpace(line)
	if raw == "" {
		return schemas.Proxy{}, fmt.Errorf("empty proxy line")
	}

	proxy := schemas.Proxy{Scheme: "http", Status: schemas.ProxyUntested}
	if scheme, rest, found := strings.Cut(raw, "://"); found {
		proxy.Scheme = scheme
		raw = rest
	}

	if creds, addr, found := strings.Cut(raw, "@"); found {
		user, pass, ok := strings.Cut(creds, ":")
		if !ok {
			return schemas.Proxy{}, fmt.Errorf("malformed proxy credentials in %q", line)
		}
		proxy.Username = user
		proxy.Password = pass
		raw = addr
	}

	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 2:
	case 4:
		if proxy.Username != "" {
			return schemas.Proxy{}, fmt.Errorf("proxy line %q carries credentials twice", line)
		}
		proxy.Username = parts[2]
		proxy.Password = parts[3]
	default:
		return schemas.Proxy{}, fmt.Errorf("malformed proxy line %q, want host:port[:user:pass]", line)
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port <= 0 || port > 65535 {
		return schemas.Proxy{}, fmt.Errorf("invalid port in proxy line %q", line)
	}
	proxy.Host = parts[0]
	proxy.Port = port
	proxy.ID = fmt.Sprintf("%s:%d", proxy.Host, proxy.Port)
	return proxy, nil
}

// LoadAccounts reads an account import file, skipping blank lines and
// comments.
func LoadAccounts(path string) ([]schemas.Account, error) {
	var accounts []schemas.Account
	err := eachLine(path, func(line string) error {
		account, err := ParseAccountLine(line)
		if err != nil {
			return err
		}
		accounts = append(accounts, account)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// LoadProxies reads a proxy import file, skipping blank lines and
// comments.
func LoadProxies(path string) ([]schemas.Proxy, error) {
	var proxies []schemas.Proxy
	err := eachLine(path, func(line string) error {
		proxy, err := ParseProxyLine(line)
		if err != nil {
			return err
		}
		proxies = append(proxies, proxy)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return proxies, nil
}

func eachLine(path string, fn func(line string) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open import file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read import file: %w", err)
	}
	return nil
}
