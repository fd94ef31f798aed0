// Package models defines the domain value types of the data layer: remote
// share/item representations, their locally re-encrypted envelopes, and the
// protobuf content codecs.
package models

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ItemType discriminates the decrypted content of an item.
type ItemType string

const (
	ItemTypeLogin ItemType = "login"
	ItemTypeNote  ItemType = "note"
	ItemTypeAlias ItemType = "alias"
)

// LoginData is the type-specific payload of a login item.
type LoginData struct {
	Username string
	Password string
	TOTPURI  string
	URLs     []string
}

// ItemContent is the decrypted, structured content of an item. It is
// serialized as a protobuf struct before encryption; Serialize and
// ParseItemContent are exact inverses.
type ItemContent struct {
	Title string
	Note  string
	Type  ItemType

	// Login is set when Type is ItemTypeLogin.
	Login *LoginData

	// AliasEmail is set when Type is ItemTypeAlias.
	AliasEmail string
}

// IsLogin reports whether the content carries login data.
func (c *ItemContent) IsLogin() bool {
	return c.Type == ItemTypeLogin
}

// Serialize encodes the content as a deterministic protobuf payload. The same
// content always yields the same bytes.
func (c *ItemContent) Serialize() ([]byte, error) {
	fields := map[string]any{
		"title": c.Title,
		"note":  c.Note,
		"type":  string(c.Type),
	}
	if c.AliasEmail != "" {
		fields["alias_email"] = c.AliasEmail
	}
	if c.Login != nil {
		urls := make([]any, len(c.Login.URLs))
		for i, u := range c.Login.URLs {
			urls[i] = u
		}
		fields["login"] = map[string]any{
			"username": c.Login.Username,
			"password": c.Login.Password,
			"totp_uri": c.Login.TOTPURI,
			"urls":     urls,
		}
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build content struct: %w", err)
	}
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal content: %w", err)
	}
	return b, nil
}

// ParseItemContent decodes a payload produced by Serialize.
func ParseItemContent(data []byte) (*ItemContent, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal content: %w", err)
	}

	c := &ItemContent{
		Title:      st.Fields["title"].GetStringValue(),
		Note:       st.Fields["note"].GetStringValue(),
		Type:       ItemType(st.Fields["type"].GetStringValue()),
		AliasEmail: st.Fields["alias_email"].GetStringValue(),
	}

	if login := st.Fields["login"].GetStructValue(); login != nil {
		var urls []string
		for _, u := range login.Fields["urls"].GetListValue().GetValues() {
			urls = append(urls, u.GetStringValue())
		}
		c.Login = &LoginData{
			Username: login.Fields["username"].GetStringValue(),
			Password: login.Fields["password"].GetStringValue(),
			TOTPURI:  login.Fields["totp_uri"].GetStringValue(),
			URLs:     urls,
		}
	}
	return c, nil
}

// VaultContent is the decrypted metadata of a vault share.
type VaultContent struct {
	Name        string
	Description string
	Color       int32
	Icon        int32
}

// Serialize encodes the vault metadata as a deterministic protobuf payload.
func (v *VaultContent) Serialize() ([]byte, error) {
	st, err := structpb.NewStruct(map[string]any{
		"name":        v.Name,
		"description": v.Description,
		"color":       float64(v.Color),
		"icon":        float64(v.Icon),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build vault struct: %w", err)
	}
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal vault content: %w", err)
	}
	return b, nil
}

// ParseVaultContent decodes a payload produced by VaultContent.Serialize.
func ParseVaultContent(data []byte) (*VaultContent, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vault content: %w", err)
	}
	return &VaultContent{
		Name:        st.Fields["name"].GetStringValue(),
		Description: st.Fields["description"].GetStringValue(),
		Color:       int32(st.Fields["color"].GetNumberValue()),
		Icon:        int32(st.Fields["icon"].GetNumberValue()),
	}, nil
}
