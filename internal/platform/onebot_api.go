package platform

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// OneBot action API over HTTP. Events arrive on the websocket stream
// (onebot.go); actions are plain POSTs against the HTTP endpoint.

type onebotAPI struct {
	http        *http.Client
	baseURL     string
	accessToken string
}

func newOnebotAPI(httpClient *http.Client, baseURL, accessToken string) *onebotAPI {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &onebotAPI{
		http:        httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
	}
}

type onebotActionResponse struct {
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
}

func (api *onebotAPI) call(ctx context.Context, action string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, api.baseURL+"/"+action, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if api.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+api.accessToken)
	}
	resp, err := api.http.Do(req)
	if err != nil {
		return err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("onebot http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var envelope onebotActionResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return err
	}
	if envelope.Status == "failed" {
		return fmt.Errorf("onebot %s: retcode %d", action, envelope.RetCode)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return err
		}
	}
	return nil
}

type onebotSegment struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

func textSegment(text string) onebotSegment {
	return onebotSegment{Type: "text", Data: map[string]string{"text": text}}
}

func imageSegment(data []byte) onebotSegment {
	return onebotSegment{Type: "image", Data: map[string]string{
		"file": "base64://" + base64.StdEncoding.EncodeToString(data),
	}}
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

func (api *onebotAPI) sendMessage(ctx context.Context, target Target, segments []onebotSegment) (string, error) {
	payload := map[string]any{"message": segments}
	action := "send_private_msg"
	if target.GroupID != "" {
		action = "send_group_msg"
		payload["group_id"] = mustInt(target.GroupID)
	} else {
		payload["user_id"] = mustInt(target.UserID)
	}
	var out sentMessage
	if err := api.call(ctx, action, payload, &out); err != nil {
		return "", err
	}
	if out.MessageID == 0 {
		return "", nil
	}
	return strconv.FormatInt(out.MessageID, 10), nil
}

func (api *onebotAPI) deleteMessage(ctx context.Context, messageID string) error {
	return api.call(ctx, "delete_msg", map[string]any{"message_id": mustInt(messageID)}, nil)
}

func (api *onebotAPI) sendGroupForward(ctx context.Context, groupID string, nodes []ForwardNode) error {
	messages := make([]map[string]any, 0, len(nodes))
	for _, node := range nodes {
		messages = append(messages, map[string]any{
			"type": "node",
			"data": map[string]any{
				"name":    node.Name,
				"uin":     node.UserID,
				"content": []onebotSegment{imageSegment(node.Image)},
			},
		})
	}
	return api.call(ctx, "send_group_forward_msg", map[string]any{
		"group_id": mustInt(groupID),
		"messages": messages,
	}, nil)
}

func (api *onebotAPI) uploadGroupFile(ctx context.Context, groupID, file, name string) error {
	return api.call(ctx, "upload_group_file", map[string]any{
		"group_id": mustInt(groupID),
		"file":     file,
		"name":     name,
	}, nil)
}

type groupMemberInfo struct {
	Role string `json:"role"`
}

func (api *onebotAPI) getGroupMemberInfo(ctx context.Context, groupID, userID string) (groupMemberInfo, error) {
	var out groupMemberInfo
	err := api.call(ctx, "get_group_member_info", map[string]any{
		"group_id": mustInt(groupID),
		"user_id":  mustInt(userID),
		"no_cache": true,
	}, &out)
	return out, err
}

type rawEventMessage struct {
	MessageID json.Number     `json:"message_id"`
	UserID    json.Number     `json:"user_id"`
	GroupID   json.Number     `json:"group_id"`
	SelfID    json.Number     `json:"self_id"`
	Message   []onebotSegment `json:"message"`
}

func (api *onebotAPI) getMessage(ctx context.Context, messageID string) (*rawEventMessage, error) {
	var out rawEventMessage
	if err := api.call(ctx, "get_msg", map[string]any{"message_id": mustInt(messageID)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func mustInt(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}
