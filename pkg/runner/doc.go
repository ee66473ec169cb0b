/*
Package runner is the server-side client for the runner agent.

Every provisioned instance runs an agent that owns container execution.
The server never executes workloads itself; it submits the frozen job
spec, polls the agent's state, and asks for stops:

	client := runner.FromProvisioningData(job.ProvisioningData)
	if _, err := client.Healthcheck(ctx); err != nil {
		// instance still booting, poll again next tick
	}
	err := client.Submit(ctx, job)
	report, err := client.Pull(ctx)

The protocol is plain HTTP/JSON on the instance's runner port. Submit
and Stop retry briefly since agents drop requests right after boot;
Healthcheck and Pull do not, because the reconciler already calls them
on every tick.
*/
package runner
