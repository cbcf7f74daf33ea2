// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusrpc

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Supported handshake values.
const (
	ProtocolName    = "json"
	ProtocolVersion = 1
)

var errUnsupportedProtocol = fmt.Sprintf("Only protocol '%s' of version %d is supported.", ProtocolName, ProtocolVersion)

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// acceptHandshake reads the first frame of a connection and answers it. On an
// unsupported protocol it replies with an error object and returns a
// ProtocolViolation; the caller must close the connection.
func acceptHandshake(fr *FrameReader, fw *FrameWriter) error {
	body, err := fr.ReadFrame()
	if err != nil {
		return err
	}

	tree, err := parseJSON(body)
	if err != nil {
		return protocolErrorf("invalid handshake: %v", err)
	}
	m, ok := tree.(map[string]any)
	if !ok {
		return protocolErrorf("handshake must be an object, got %s", jsonTypeName(tree))
	}
	name, nameOK := m["protocol"].(string)
	rawVersion, versionOK := m["version"].(json.Number)
	if !nameOK || !versionOK {
		return protocolErrorf("handshake is missing protocol or version")
	}

	version, verr := rawVersion.Int64()
	if verr != nil || name != ProtocolName || version != ProtocolVersion {
		reply, _ := json.Marshal(handshakeResponse{Error: errUnsupportedProtocol})
		if err := fw.WriteFrame(reply); err != nil {
			return err
		}
		return protocolErrorf("unsupported protocol %q version %s", name, rawVersion)
	}

	reply, _ := json.Marshal(handshakeResponse{})
	return fw.WriteFrame(reply)
}

// Negotiate performs the host side of the handshake.
func Negotiate(fr *FrameReader, fw *FrameWriter) error {
	req, err := json.Marshal(handshakeRequest{Protocol: ProtocolName, Version: ProtocolVersion})
	if err != nil {
		return err
	}
	if err := fw.WriteFrame(req); err != nil {
		return err
	}

	body, err := fr.ReadFrame()
	if err != nil {
		return abortedOr(err)
	}
	if len(body) == 0 {
		return protocolErrorf("empty handshake response")
	}
	var resp handshakeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return protocolErrorf("invalid handshake response: %v", err)
	}
	if resp.Error != "" {
		return &RpcError{Type: ErrorTypeProtocolViolation, Message: resp.Error}
	}
	return nil
}
