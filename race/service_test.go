package race_test

import (
	"context"
	"strings"
	"testing"

	"github.com/onnwee/race-tender/backend/race"
	"github.com/onnwee/race-tender/backend/testutil"
)

const (
	testServer = "srv1"
	testOwner  = "owner-1"
)

func newService(t *testing.T, resolver race.GameResolver) (*race.Service, *testutil.FakeGateway) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	gw := testutil.NewFakeGateway()
	if resolver == nil {
		resolver = &testutil.StaticResolver{Game: "Other"}
	}
	return race.NewService(db, gw, resolver, "maint-1"), gw
}

func ownerInvoker(channelID string) race.Invoker {
	return race.Invoker{
		ServerID:      testServer,
		ServerOwnerID: testOwner,
		ChannelID:     channelID,
		UserID:        testOwner,
		UserName:      "Owner",
	}
}

func registerGroup(t *testing.T, svc *race.Service, gw *testutil.FakeGateway, name, sub, lb, sp, role string) *race.ChannelGroup {
	t.Helper()
	for _, c := range []string{sub, lb, sp} {
		gw.AddChannel(testServer, c)
	}
	gw.AddRole(testServer, role)
	group, err := svc.AddGroup(context.Background(), ownerInvoker(""), &race.Manifest{
		GroupName:   name,
		Submission:  sub,
		Leaderboard: lb,
		Spoiler:     sp,
		SpoilerRole: role,
	})
	if err != nil {
		t.Fatalf("AddGroup(%s): %v", name, err)
	}
	return group
}

func TestAddGroupRejectsClaimedChannel(t *testing.T) {
	svc, gw := newService(t, nil)
	registerGroup(t, svc, gw, "main", "sub1", "lb1", "sp1", "role1")

	// lb1 already belongs to main, in a different role
	for _, c := range []string{"sub2", "sp2"} {
		gw.AddChannel(testServer, c)
	}
	gw.AddRole(testServer, "role2")
	_, err := svc.AddGroup(context.Background(), ownerInvoker(""), &race.Manifest{
		GroupName:   "second",
		Submission:  "lb1",
		Leaderboard: "sub2",
		Spoiler:     "sp2",
		SpoilerRole: "role2",
	})
	if !race.IsOverlap(err) {
		t.Fatalf("AddGroup with claimed channel = %v, want overlap error", err)
	}
}

func TestAddGroupRejectsDuplicateName(t *testing.T) {
	svc, gw := newService(t, nil)
	registerGroup(t, svc, gw, "main", "sub1", "lb1", "sp1", "role1")

	for _, c := range []string{"sub2", "lb2", "sp2"} {
		gw.AddChannel(testServer, c)
	}
	_, err := svc.AddGroup(context.Background(), ownerInvoker(""), &race.Manifest{
		GroupName:   "main",
		Submission:  "sub2",
		Leaderboard: "lb2",
		Spoiler:     "sp2",
		SpoilerRole: "role1",
	})
	if !race.IsValidation(err) {
		t.Fatalf("AddGroup with duplicate name = %v, want validation error", err)
	}
}

func TestAddGroupRequiresAdmin(t *testing.T) {
	svc, gw := newService(t, nil)
	for _, c := range []string{"sub1", "lb1", "sp1"} {
		gw.AddChannel(testServer, c)
	}
	gw.AddRole(testServer, "role1")

	inv := race.Invoker{ServerID: testServer, ServerOwnerID: testOwner, UserID: "nobody", UserName: "Nobody"}
	_, err := svc.AddGroup(context.Background(), inv, &race.Manifest{
		GroupName: "main", Submission: "sub1", Leaderboard: "lb1", Spoiler: "sp1", SpoilerRole: "role1",
	})
	if err != race.ErrPermissionDenied {
		t.Fatalf("AddGroup by stranger = %v, want ErrPermissionDenied", err)
	}
}

func TestGroupCapPerServer(t *testing.T) {
	svc, gw := newService(t, nil)
	suffix := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	for _, sfx := range suffix {
		registerGroup(t, svc, gw, "g"+sfx, "sub-"+sfx, "lb-"+sfx, "sp-"+sfx, "role-"+sfx)
	}
	for _, c := range []string{"sub-k", "lb-k", "sp-k"} {
		gw.AddChannel(testServer, c)
	}
	gw.AddRole(testServer, "role-k")
	_, err := svc.AddGroup(context.Background(), ownerInvoker(""), &race.Manifest{
		GroupName: "gk", Submission: "sub-k", Leaderboard: "lb-k", Spoiler: "sp-k", SpoilerRole: "role-k",
	})
	if !race.IsValidation(err) {
		t.Fatalf("11th AddGroup = %v, want validation error", err)
	}
}

func TestRemoveGroupCascades(t *testing.T) {
	svc, gw := newService(t, nil)
	registerGroup(t, svc, gw, "main", "sub1", "lb1", "sp1", "role1")

	if err := svc.RemoveGroup(context.Background(), ownerInvoker(""), "main"); err != nil {
		t.Fatalf("RemoveGroup: %v", err)
	}
	if _, err := svc.ResolveChannel(context.Background(), "sub1"); !race.IsNotFound(err) {
		t.Fatalf("ResolveChannel after removal = %v, want not found", err)
	}
	if err := svc.RemoveGroup(context.Background(), ownerInvoker(""), "main"); !race.IsNotFound(err) {
		t.Fatalf("second RemoveGroup = %v, want not found", err)
	}
}

func TestListGroupsSendsDM(t *testing.T) {
	svc, gw := newService(t, nil)
	registerGroup(t, svc, gw, "main", "sub1", "lb1", "sp1", "role1")

	names, err := svc.ListGroups(context.Background(), ownerInvoker(""))
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if len(names) != 1 || names[0] != "main" {
		t.Fatalf("names = %v, want [main]", names)
	}
	dms := gw.DMs[testOwner]
	if len(dms) != 1 || !strings.Contains(dms[0], "main") {
		t.Fatalf("DM = %v, want group listing", dms)
	}
}

func submitMsg(channel, msgID, user, content string) race.Message {
	return race.Message{
		ServerID:   testServer,
		ChannelID:  channel,
		MessageID:  msgID,
		AuthorID:   user + "-id",
		AuthorName: user,
		Content:    content,
	}
}

func TestRaceLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, gw := newService(t, &testutil.StaticResolver{Game: "ALTTPR", NeedsCollection: true})
	registerGroup(t, svc, gw, "main", "sub1", "lb1", "sp1", "role1")

	r, err := svc.StartRace(ctx, ownerInvoker("sub1"), race.KindRTA, "https://alttpr.com/h/seed1")
	if err != nil {
		t.Fatalf("StartRace: %v", err)
	}
	if !r.Active || r.Game != "ALTTPR" {
		t.Fatalf("race = %+v", r)
	}
	if len(gw.Posted) != 2 {
		t.Fatalf("expected leaderboard + announcement, got %d posts", len(gw.Posted))
	}
	lbMsg, annMsg := gw.Posted[0], gw.Posted[1]
	if lbMsg.ChannelID != "lb1" || annMsg.ChannelID != "sub1" {
		t.Fatalf("posts went to %s and %s", lbMsg.ChannelID, annMsg.ChannelID)
	}

	out, err := svc.Submit(ctx, submitMsg("sub1", "m1", "alice", "01:10:00 167"))
	if err != nil || !out.Accepted {
		t.Fatalf("Submit = %+v, %v", out, err)
	}
	out, err = svc.Submit(ctx, submitMsg("sub1", "m2", "bob", "ff"))
	if err != nil || !out.Accepted {
		t.Fatalf("forfeit Submit = %+v, %v", out, err)
	}

	// both runner messages deleted, roles granted, leaderboard updated
	for _, id := range []string{"m1", "m2"} {
		found := false
		for _, d := range gw.Deleted {
			if d == id {
				found = true
			}
		}
		if !found {
			t.Errorf("submission message %s was not deleted", id)
		}
	}
	if len(gw.Granted) != 2 {
		t.Errorf("granted = %v, want alice and bob", gw.Granted)
	}
	content, ok := gw.MessageContent(lbMsg.ID)
	if !ok || !strings.Contains(content, "alice — 01:10:00 — 167/216") {
		t.Errorf("leaderboard content = %q", content)
	}
	if !strings.Contains(content, "*bob — forfeit*") {
		t.Errorf("leaderboard missing forfeit line: %q", content)
	}

	if err := svc.StopRace(ctx, ownerInvoker("sub1")); err != nil {
		t.Fatalf("StopRace: %v", err)
	}
	// final leaderboard moved onto the announcement message, stale copy deleted
	final, ok := gw.MessageContent(annMsg.ID)
	if !ok || !strings.Contains(final, "— final") || !strings.Contains(final, "alice") {
		t.Errorf("final leaderboard = %q", final)
	}
	if _, ok := gw.MessageContent(lbMsg.ID); ok {
		t.Error("leaderboard-channel message should be deleted on stop")
	}
	if len(gw.Revoked) != 2 {
		t.Errorf("revoked = %v, want both runners", gw.Revoked)
	}
}

func TestStartWhileActiveStopsPriorFirst(t *testing.T) {
	ctx := context.Background()
	svc, gw := newService(t, nil)
	registerGroup(t, svc, gw, "main", "sub1", "lb1", "sp1", "role1")

	if _, err := svc.StartRace(ctx, ownerInvoker("sub1"), race.KindRTA, "first"); err != nil {
		t.Fatalf("first StartRace: %v", err)
	}
	if _, err := svc.Submit(ctx, submitMsg("sub1", "m1", "alice", "01:00:00")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	firstAnn := gw.Posted[1]

	r2, err := svc.StartRace(ctx, ownerInvoker("sub1"), race.KindIGT, "second")
	if err != nil {
		t.Fatalf("second StartRace: %v", err)
	}
	if r2.Kind != race.KindIGT {
		t.Errorf("kind = %s", r2.Kind)
	}
	// prior race finalized with its submissions intact
	final, ok := gw.MessageContent(firstAnn.ID)
	if !ok || !strings.Contains(final, "— final") || !strings.Contains(final, "alice") {
		t.Errorf("prior race final leaderboard = %q", final)
	}
	// alice's role from the prior race is revoked
	if len(gw.Revoked) != 1 {
		t.Errorf("revoked = %v", gw.Revoked)
	}
	// fresh leaderboard for the new race is empty
	newLB := gw.Posted[len(gw.Posted)-2]
	content, _ := gw.MessageContent(newLB.ID)
	if strings.Contains(content, "alice") {
		t.Errorf("new race leaderboard should not carry prior submissions: %q", content)
	}
}

func TestResubmissionReplaces(t *testing.T) {
	ctx := context.Background()
	svc, gw := newService(t, nil)
	registerGroup(t, svc, gw, "main", "sub1", "lb1", "sp1", "role1")
	if _, err := svc.StartRace(ctx, ownerInvoker("sub1"), race.KindRTA, ""); err != nil {
		t.Fatalf("StartRace: %v", err)
	}
	lbMsg := gw.Posted[0]

	if _, err := svc.Submit(ctx, submitMsg("sub1", "m1", "alice", "01:00:00")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := svc.Submit(ctx, submitMsg("sub1", "m2", "alice", "00:50:00")); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	content, _ := gw.MessageContent(lbMsg.ID)
	if !strings.Contains(content, "00:50:00") || strings.Contains(content, "01:00:00") {
		t.Errorf("resubmission should replace the earlier entry: %q", content)
	}
	if strings.Count(content, "alice") != 1 {
		t.Errorf("runner should appear once: %q", content)
	}
}

func TestSubmitWithoutActiveRace(t *testing.T) {
	ctx := context.Background()
	svc, gw := newService(t, nil)
	registerGroup(t, svc, gw, "main", "sub1", "lb1", "sp1", "role1")

	out, err := svc.Submit(ctx, submitMsg("sub1", "m1", "alice", "01:00:00"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Accepted {
		t.Error("submission without an active race should be rejected")
	}
	if len(gw.Deleted) != 1 || gw.Deleted[0] != "m1" {
		t.Errorf("rejected message should still be deleted, got %v", gw.Deleted)
	}
}

func TestSubmitUnmanagedChannel(t *testing.T) {
	svc, _ := newService(t, nil)
	_, err := svc.Submit(context.Background(), submitMsg("random", "m1", "alice", "01:00:00"))
	if !race.IsNotFound(err) {
		t.Fatalf("Submit in unmanaged channel = %v, want not found", err)
	}
}

func TestRefreshRepairsLeaderboard(t *testing.T) {
	ctx := context.Background()
	svc, gw := newService(t, nil)
	registerGroup(t, svc, gw, "main", "sub1", "lb1", "sp1", "role1")
	if _, err := svc.StartRace(ctx, ownerInvoker("sub1"), race.KindRTA, ""); err != nil {
		t.Fatalf("StartRace: %v", err)
	}
	lbMsg := gw.Posted[0]

	// the edit after this submission fails; stored state moves ahead of chat
	gw.Fail["EditMessage"] = true
	out, err := svc.Submit(ctx, submitMsg("sub1", "m1", "alice", "01:00:00"))
	if err != nil || !out.Accepted {
		t.Fatalf("Submit = %+v, %v", out, err)
	}
	content, _ := gw.MessageContent(lbMsg.ID)
	if strings.Contains(content, "alice") {
		t.Fatal("edit should have failed")
	}
	// side-effect failure reported to the maintenance user
	if len(gw.DMs["maint-1"]) == 0 {
		t.Error("maintenance user should be notified of the failed edit")
	}

	gw.Fail["EditMessage"] = false
	if err := svc.Refresh(ctx, ownerInvoker("sub1")); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	content, _ = gw.MessageContent(lbMsg.ID)
	if !strings.Contains(content, "alice") {
		t.Errorf("refresh should repair the leaderboard: %q", content)
	}

	// refresh is idempotent
	if err := svc.Refresh(ctx, ownerInvoker("sub1")); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
}

func TestStopWithoutActiveRaceIsNoop(t *testing.T) {
	svc, gw := newService(t, nil)
	registerGroup(t, svc, gw, "main", "sub1", "lb1", "sp1", "role1")
	if err := svc.StopRace(context.Background(), ownerInvoker("sub1")); err != nil {
		t.Fatalf("StopRace with nothing active = %v", err)
	}
}

func TestStartRaceOutsideSubmissionChannel(t *testing.T) {
	svc, gw := newService(t, nil)
	registerGroup(t, svc, gw, "main", "sub1", "lb1", "sp1", "role1")
	_, err := svc.StartRace(context.Background(), ownerInvoker("lb1"), race.KindRTA, "")
	if !race.IsValidation(err) {
		t.Fatalf("StartRace in leaderboard channel = %v, want validation error", err)
	}
}

func TestModRoleGrantsLifecycleAccess(t *testing.T) {
	ctx := context.Background()
	svc, gw := newService(t, nil)
	registerGroup(t, svc, gw, "main", "sub1", "lb1", "sp1", "role1")

	modInv := race.Invoker{
		ServerID:      testServer,
		ServerOwnerID: testOwner,
		ChannelID:     "sub1",
		UserID:        "mod-1",
		UserName:      "Mod",
		RoleIDs:       []string{"mods"},
	}
	if _, err := svc.StartRace(ctx, modInv, race.KindRTA, ""); err != race.ErrPermissionDenied {
		t.Fatalf("StartRace before mod role set = %v, want ErrPermissionDenied", err)
	}

	gw.AddRole(testServer, "mods")
	if err := svc.SetModRole(ctx, ownerInvoker(""), "mods"); err != nil {
		t.Fatalf("SetModRole: %v", err)
	}
	if _, err := svc.StartRace(ctx, modInv, race.KindRTA, ""); err != nil {
		t.Fatalf("StartRace with mod role: %v", err)
	}
	// mods cannot administer groups
	if err := svc.RemoveGroup(ctx, modInv, "main"); err != race.ErrPermissionDenied {
		t.Fatalf("RemoveGroup by mod = %v, want ErrPermissionDenied", err)
	}
}

func TestCorrections(t *testing.T) {
	ctx := context.Background()
	svc, gw := newService(t, nil)
	registerGroup(t, svc, gw, "main", "sub1", "lb1", "sp1", "role1")
	if _, err := svc.StartRace(ctx, ownerInvoker("sub1"), race.KindRTA, ""); err != nil {
		t.Fatalf("StartRace: %v", err)
	}
	lbMsg := gw.Posted[0]
	if _, err := svc.Submit(ctx, submitMsg("sub1", "m1", "alice", "01:00:00")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := svc.SetTime(ctx, ownerInvoker("sub1"), "alice", "00:45:00"); err != nil {
		t.Fatalf("SetTime: %v", err)
	}
	content, _ := gw.MessageContent(lbMsg.ID)
	if !strings.Contains(content, "00:45:00") {
		t.Errorf("SetTime not reflected: %q", content)
	}

	if err := svc.SetCollection(ctx, ownerInvoker("sub1"), "alice", 200); err != nil {
		t.Fatalf("SetCollection: %v", err)
	}
	content, _ = gw.MessageContent(lbMsg.ID)
	if !strings.Contains(content, "00:45:00 — 200") {
		t.Errorf("SetCollection not reflected: %q", content)
	}

	if err := svc.SetTime(ctx, ownerInvoker("sub1"), "ghost", "00:45:00"); !race.IsNotFound(err) {
		t.Fatalf("SetTime for unknown runner = %v, want not found", err)
	}

	if err := svc.RemoveTime(ctx, ownerInvoker("sub1"), "alice"); err != nil {
		t.Fatalf("RemoveTime: %v", err)
	}
	content, _ = gw.MessageContent(lbMsg.ID)
	if strings.Contains(content, "alice") {
		t.Errorf("RemoveTime should drop the runner: %q", content)
	}
	if len(gw.Revoked) != 1 || !strings.Contains(gw.Revoked[0], "alice-id") {
		t.Errorf("RemoveTime should revoke the spoiler role, got %v", gw.Revoked)
	}
}
