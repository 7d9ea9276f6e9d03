package aws

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextEmail(t *testing.T) {
	in := TextEmail("admissions@example.edu", "ada@example.com", "Submitted", "Thanks")

	require.NotNil(t, in.Destination)
	assert.Equal(t, []string{"ada@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, "admissions@example.edu", aws.ToString(in.Source))
	assert.Equal(t, "Submitted", aws.ToString(in.Message.Subject.Data))
	assert.Equal(t, "Thanks", aws.ToString(in.Message.Body.Text.Data))
}

func TestSMS(t *testing.T) {
	in := SMS("+15550100", "Decision available", "")

	assert.Equal(t, "+15550100", aws.ToString(in.PhoneNumber))
	assert.Equal(t, "Decision available", aws.ToString(in.Message))
	assert.Empty(t, in.MessageAttributes)

	in = SMS("+15550100", "Decision available", "ADMISSIONS")
	assert.Equal(t, "ADMISSIONS", aws.ToString(in.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue))
}
