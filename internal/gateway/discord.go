package gateway

import (
	"context"
	"fmt"
	"log"

	"github.com/bwmarrin/discordgo"
)

type DiscordGateway struct {
	Session   *discordgo.Session
	Responder Responder
	Profile   string
}

func NewDiscordGateway(token string, responder Responder, profileName string) (*DiscordGateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}

	dg := &DiscordGateway{
		Session:   session,
		Responder: responder,
		Profile:   profileName,
	}

	session.AddHandler(dg.onMessage)
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages

	return dg, nil
}

func (dg *DiscordGateway) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore our own messages
	if m.Author.ID == s.State.User.ID {
		return
	}

	log.Printf("[%s] %s", m.Author.Username, m.Content)

	response, _, err := dg.Responder.Reply(context.Background(), m.ChannelID, m.Content, dg.Profile)
	if err != nil {
		log.Printf("Error replying: %v", err)
		response = "I'm having trouble thinking right now..."
	}

	if _, err := s.ChannelMessageSend(m.ChannelID, response); err != nil {
		log.Printf("Error sending Discord message: %v", err)
	}
}

func (dg *DiscordGateway) Start() error {
	if err := dg.Session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	// discordgo delivers messages on its own goroutines; block forever
	// to match the Messenger contract.
	select {}
}

func (dg *DiscordGateway) Send(chatID string, text string) error {
	_, err := dg.Session.ChannelMessageSend(chatID, text)
	return err
}

func (dg *DiscordGateway) Stop() error {
	return dg.Session.Close()
}
