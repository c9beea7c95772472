// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gmail

import (
	"context"

	"go.uber.org/zap"
)

// Gmail identifies labels by opaque ids in messages and by name
// everywhere a user sees them.  The mapping is cached for the life of
// the Client and reloaded when an unknown id or name shows up.

func (c *Client) loadLabels(ctx context.Context) error {
	if err := c.limiter.WaitN(ctx, quotaUnitsPerLabelsList); err != nil {
		return err
	}
	resp, err := c.service.Users.Labels.List("me").Context(ctx).Do()
	if err != nil {
		return classify("labels", "", err)
	}
	byName := make(map[string]string, len(resp.Labels))
	byID := make(map[string]string, len(resp.Labels))
	for _, l := range resp.Labels {
		byName[l.Name] = l.Id
		byID[l.Id] = l.Name
	}
	c.labelsByName = byName
	c.labelsByID = byID
	return nil
}

// labelID returns the id of the label with the given name.
func (c *Client) labelID(ctx context.Context, name string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.labelsByName[name]; ok {
		return id, true, nil
	}
	if err := c.loadLabels(ctx); err != nil {
		return "", false, err
	}
	id, ok := c.labelsByName[name]
	return id, ok, nil
}

// labelNames maps label ids to names.  Ids that remain unknown after a
// reload are kept as is.
func (c *Client) labelNames(ctx context.Context, ids []string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reloaded := false
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		name, ok := c.labelsByID[id]
		if !ok && !reloaded {
			if err := c.loadLabels(ctx); err != nil {
				return nil, err
			}
			reloaded = true
			name, ok = c.labelsByID[id]
		}
		if !ok {
			c.log.Debug("unknown label id", zap.String("id", id))
			name = id
		}
		names = append(names, name)
	}
	return names, nil
}
