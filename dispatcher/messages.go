package dispatcher

// User-visible copy. Plain language only; internal errors never leak here.
const (
	msgEscalationAck     = "A specialist will be with you shortly. Your ticket ID is %s."
	msgFollowUpAck       = "Thanks for the additional information. A specialist will be with you shortly."
	msgSpecialistJoined  = "A specialist has joined the conversation."
	msgTicketClosed      = "This conversation has been closed. Send a new message any time to start a fresh one."
	msgTicketExpired     = "We're sorry for the wait. This ticket has been closed for now; please reach out again and we'll pick it right up."
	msgDeEscalation      = "I'm here to help, so let's keep things constructive. What can I do for you?"
	msgStoreTrouble      = "I'm having trouble right now, please try again in a moment."
	msgWorkspaceDown     = "We couldn't reach a specialist right now. Please try again in a few minutes or email %s."
	msgSchedulingDown    = "Scheduling is temporarily unavailable, so I've asked our team to reach out and set up a time with you directly."
	msgNoOpenSlots       = "I couldn't find an open slot in the next few business days, so I've asked our team to reach out and arrange a time."
	msgSlotTaken         = "Sorry, that time was just taken. Here are the remaining options:"
	msgSlotTakenNoneLeft = "Sorry, that time was just taken and no other offers remain. Would you like me to look for new times?"
	msgBookingTrouble    = "I couldn't complete the booking, so I've escalated this to our team. A specialist will confirm your demo shortly."
	msgPickValidOption   = "Please pick one of the offered options by its number."
	msgOfferIntro        = "Here are some available times for a 30-minute demo:"
	msgOfferOutro        = "Reply with the number of the slot you'd like, and I'll book it."
	msgBookingConfirmed  = "You're booked! Your demo is set for %s. A calendar invitation is on its way."
	msgSalesConnect      = "I'll also connect you with our sales team to go over the details for your organization."
	msgAlreadyClaimed    = "Already claimed by %s."
	msgOnlyAssignee      = "Only %s can close this ticket."
	msgClaimFirst        = "Claim the ticket with Accept before replying to the customer."
)
