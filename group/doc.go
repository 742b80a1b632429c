// Package group implements group chat metadata: membership, roles, and
// invitations, broadcasting state changes over an overlay pubsub topic.
//
// # Creating and joining
//
//	chat, err := group.Create("Project Chat", group.ChatTypeText, group.PrivacyPrivate, self, topicManager)
//	inv, err := chat.Invite(peerID)
//	// deliver inv over an existing 1:1 session; the invited peer's AddMember
//	// call (driven by accepting that invitation) admits them
//
// # Messaging
//
//	chat.OnMessage(func(groupID string, sender crypto.PeerID, message string) { ... })
//	err := chat.SendMessage(ctx, "hello")
//
// Confidentiality for group message bodies is provided one layer up by
// session.GroupSession's sender-key ratchet; this package moves whatever
// bytes it is given, sealed or not, to every current subscriber of the
// group's topic.
//
// # Roles and removal
//
// Founder > Admin > Moderator > User. KickMember and SetRole both enforce
// that the acting member strictly outranks the target. Removing a member
// does not itself rotate cryptographic key material — the caller is
// expected to call the corresponding session.GroupSession.Rekey afterward,
// since the removed member still holds the old sending chain key.
//
// # Broadcast transport
//
// Every roster or state change is JSON-encoded as a broadcastMessage and
// published on the group's overlay/pubsub.Topic, which fans it out to all
// subscribers using a bounded worker pool — one slow or unreachable member
// cannot stall delivery to the rest. Because pubsub frames carry no topic
// id of their own, DecodeBroadcast extracts the group id embedded in the
// payload so a single inbound handler can route frames to the right Chat.
package group
