// Package ec2 keeps a self-hosted proving machine running only while it is needed.
package ec2

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

type Config struct {
	Region     string
	InstanceID string
	// AddressType is "private" or "public".
	AddressType string
	Schema      string
	Port        int
}

var DefaultConfig = Config{
	Region:      "ap-northeast-2",
	AddressType: "private",
	Schema:      "http",
	Port:        8081,
}

// Controller starts and stops one EC2 instance that runs the proving service.
type Controller struct {
	client    ec2iface.EC2API
	config    Config
	ipAddress string
	running   bool
	mu        sync.Mutex
}

func NewController(config Config) (*Controller, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(config.Region)})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create ec2 session")
	}
	return newController(ec2.New(sess), config)
}

func newController(client ec2iface.EC2API, config Config) (*Controller, error) {
	if config.InstanceID == "" {
		return nil, errors.New("ec2 instance id is required")
	}
	if config.AddressType != "private" && config.AddressType != "public" {
		return nil, errors.Errorf("unknown address type %q", config.AddressType)
	}
	if config.Schema == "" {
		config.Schema = DefaultConfig.Schema
	}
	c := &Controller{client: client, config: config}
	if err := c.updateState(); err != nil {
		return nil, errors.Wrap(err, "failed to read ec2 instance state")
	}
	return c, nil
}

func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Endpoint is the proving service URL on the instance.
func (c *Controller) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("%s://%s", c.config.Schema, net.JoinHostPort(c.ipAddress, strconv.Itoa(c.config.Port)))
}

func (c *Controller) updateState() error {
	instance, err := c.findInstance()
	if err != nil {
		return err
	}
	state := aws.StringValue(instance.State.Name)
	c.running = state == ec2.InstanceStateNamePending || state == ec2.InstanceStateNameRunning
	c.ipAddress = c.address(instance)
	log.Info("ec2 instance state", "instance", c.config.InstanceID, "state", state, "address", c.ipAddress)
	return nil
}

func (c *Controller) address(instance *ec2.Instance) string {
	var address string
	for _, networkInterface := range instance.NetworkInterfaces {
		for _, ipAddress := range networkInterface.PrivateIpAddresses {
			if c.config.AddressType == "public" {
				if ipAddress.Association != nil {
					address = aws.StringValue(ipAddress.Association.PublicIp)
				}
			} else {
				address = aws.StringValue(ipAddress.PrivateIpAddress)
			}
		}
	}
	return address
}

func (c *Controller) findInstance() (*ec2.Instance, error) {
	output, err := c.client.DescribeInstances(&ec2.DescribeInstancesInput{InstanceIds: c.instanceIds()})
	if err != nil {
		return nil, err
	}
	if len(output.Reservations) == 0 || len(output.Reservations[0].Instances) == 0 {
		return nil, errors.Errorf("ec2 instance %s not found", c.config.InstanceID)
	}
	return output.Reservations[0].Instances[0], nil
}

func (c *Controller) StartIfNotRunning() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	if _, err := c.client.StartInstances(&ec2.StartInstancesInput{InstanceIds: c.instanceIds()}); err != nil {
		log.Error("failed to start ec2 instance", "instance", c.config.InstanceID, "err", err)
		return errors.Wrapf(err, "failed to start ec2 instance %s", c.config.InstanceID)
	}
	c.running = true
	log.Info("started ec2 instance", "instance", c.config.InstanceID)
	// a public address is only assigned once the instance starts
	if c.config.AddressType == "public" || c.ipAddress == "" {
		if err := c.client.WaitUntilInstanceRunning(&ec2.DescribeInstancesInput{InstanceIds: c.instanceIds()}); err != nil {
			return errors.Wrapf(err, "ec2 instance %s did not reach running", c.config.InstanceID)
		}
		return c.updateState()
	}
	return nil
}

func (c *Controller) StopIfRunning() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	if _, err := c.client.StopInstances(&ec2.StopInstancesInput{InstanceIds: c.instanceIds()}); err != nil {
		log.Error("failed to stop ec2 instance", "instance", c.config.InstanceID, "err", err)
		return
	}
	c.running = false
	log.Info("stopped ec2 instance", "instance", c.config.InstanceID)
}

func (c *Controller) instanceIds() []*string { return []*string{aws.String(c.config.InstanceID)} }
