package diag

import (
	"context"
	"fmt"

	"storewatch/internal/model"
)

// DisplayScope recorded for tags observed via the rendered-page probe
// rather than the script-tag API.
const ScopeStorefrontProbe = "storefront_probe"

// ScriptResult summarizes one script-tracking pass.
type ScriptResult struct {
	Total      int
	New        int
	Removed    int
	UsedProbe  bool
	NewScripts []*model.ScriptSnapshot
}

// TrackScripts reconciles the stored script snapshots with the scripts
// currently active on the storefront. Snapshots are keyed by source URL:
// known URLs are touched in place, unknown URLs inserted as new, and stored
// URLs absent from the observation are marked removed. When the script-tag
// API denies access (a missing scope) the rendered storefront page is probed
// instead, so injected scripts are still observed.
func (s *Service) TrackScripts(ctx context.Context, sf *model.Storefront, scanID string) (*ScriptResult, error) {
	res := &ScriptResult{}

	tags, err := s.api.ListScriptTags(ctx, creds(sf))
	if err != nil {
		if !IsPermissionDenied(err) || s.probe == nil {
			return nil, fmt.Errorf("list script tags: %w", err)
		}
		s.logger.Info("script tag API denied, probing storefront page",
			"storefront", sf.ID, "domain", sf.Domain)
		tags, err = s.probe.ProbeScripts(ctx, sf.Domain)
		if err != nil {
			return nil, fmt.Errorf("probe storefront scripts: %w", err)
		}
		for i := range tags {
			tags[i].DisplayScope = ScopeStorefrontProbe
		}
		res.UsedProbe = true
	}

	stored, err := s.stores.Scripts.ActiveScripts(sf.ID)
	if err != nil {
		return nil, fmt.Errorf("load script snapshots: %w", err)
	}
	bySrc := make(map[string]*model.ScriptSnapshot, len(stored))
	for _, snap := range stored {
		bySrc[snap.Src] = snap
	}

	now := s.clock.Now()
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if tag.Src == "" {
			continue
		}
		if _, dup := seen[tag.Src]; dup {
			continue
		}
		seen[tag.Src] = struct{}{}
		res.Total++

		if snap, ok := bySrc[tag.Src]; ok {
			if err := s.stores.Scripts.TouchScript(snap.ID, scanID, now); err != nil {
				return nil, fmt.Errorf("touch script %s: %w", snap.ID, err)
			}
			continue
		}

		snap := &model.ScriptSnapshot{
			ID:               s.idGen.New(),
			StorefrontID:     sf.ID,
			PlatformScriptID: tag.ID,
			Src:              tag.Src,
			DisplayScope:     tag.DisplayScope,
			Event:            tag.Event,
			LikelyApp:        s.sigs.MatchScript(tag.Src),
			IsNew:            true,
			ScanID:           scanID,
			FirstSeen:        now,
			LastSeen:         now,
		}
		if err := s.stores.Scripts.InsertScript(snap); err != nil {
			return nil, fmt.Errorf("record script %s: %w", tag.Src, err)
		}
		res.New++
		res.NewScripts = append(res.NewScripts, snap)
	}

	for src, snap := range bySrc {
		if _, ok := seen[src]; ok {
			continue
		}
		if err := s.stores.Scripts.MarkScriptRemoved(snap.ID, scanID); err != nil {
			return nil, fmt.Errorf("mark script removed %s: %w", snap.ID, err)
		}
		res.Removed++
	}

	return res, nil
}

// ScriptHistory lists recorded script snapshots for a storefront, active
// and removed, newest first.
func (s *Service) ScriptHistory(storefrontID string, limit int) ([]*model.ScriptSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	snaps, err := s.stores.Scripts.ScriptHistory(storefrontID, limit)
	if err != nil {
		return nil, fmt.Errorf("load script history: %w", err)
	}
	return snaps, nil
}
